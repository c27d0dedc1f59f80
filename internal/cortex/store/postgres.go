package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"manifold/internal/cortex/cortexerr"
	"manifold/internal/cortex/model"
)

// Postgres is a pgx/v5-backed Store. Schema (created by EnsureSchema):
//
//	conversations(id text pk, title text, summary text, topics jsonb,
//	  cluster_id int, cluster_label text, message_count int,
//	  created_at timestamptz, updated_at timestamptz)
//	messages(conversation_id text, sequence int, role text, content text,
//	  primary key (conversation_id, sequence))
//	embeddings(conversation_id text pk, vector jsonb, proj_x/y/z double
//	  precision, start_x/y/z double precision, magnitude double precision)
//
// Grounded on the reference stack's internal/persistence/databases
// postgres_vector.go pgx usage and factory.go's NewManager backend-switch
// pattern (this type plays the role that switch dispatches to for
// "postgres" metadata backends).
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pooled connection to dsn.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.Internal, "connect postgres", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

// EnsureSchema creates the tables if they do not already exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id text PRIMARY KEY,
			title text NOT NULL,
			summary text NOT NULL DEFAULT '',
			topics jsonb NOT NULL DEFAULT '[]',
			cluster_id integer NOT NULL DEFAULT -1,
			cluster_label text NOT NULL DEFAULT 'unclustered',
			message_count integer NOT NULL DEFAULT 0,
			created_at timestamptz NOT NULL,
			updated_at timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			conversation_id text NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sequence integer NOT NULL,
			role text NOT NULL,
			content text NOT NULL,
			PRIMARY KEY (conversation_id, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			conversation_id text PRIMARY KEY REFERENCES conversations(id) ON DELETE CASCADE,
			vector jsonb NOT NULL,
			proj_x double precision NOT NULL DEFAULT 0,
			proj_y double precision NOT NULL DEFAULT 0,
			proj_z double precision NOT NULL DEFAULT 0,
			start_x double precision NOT NULL DEFAULT 0,
			start_y double precision NOT NULL DEFAULT 0,
			start_z double precision NOT NULL DEFAULT 0,
			magnitude double precision NOT NULL DEFAULT 0
		)`,
	}
	for _, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return cortexerr.Wrap(cortexerr.Internal, "ensure schema", err)
		}
	}
	return nil
}

func (p *Postgres) CreateConversation(ctx context.Context, conv model.Conversation, messages []model.Message, emb model.Embedding) error {
	now := time.Now().UTC()
	conv.CreatedAt, conv.UpdatedAt = now, now
	conv.MessageCount = len(messages)
	if conv.ClusterLabel == "" {
		conv.ClusterID = model.UnclusteredID
		conv.ClusterLabel = model.UnclusteredLabel
	}

	topics, err := json.Marshal(conv.Topics)
	if err != nil {
		return cortexerr.Internalf(err, "marshal topics")
	}
	vec, err := json.Marshal(emb.Vector)
	if err != nil {
		return cortexerr.Internalf(err, "marshal vector")
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return cortexerr.Wrap(cortexerr.Internal, "begin tx", err)
	}
	defer tx.Rollback(ctx) // no-op if Commit succeeds

	_, err = tx.Exec(ctx, `INSERT INTO conversations
		(id, title, summary, topics, cluster_id, cluster_label, message_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		conv.ID, conv.Title, conv.Summary, topics, conv.ClusterID, conv.ClusterLabel, conv.MessageCount, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return cortexerr.Wrap(cortexerr.Internal, "insert conversation", err)
	}

	for _, msg := range messages {
		_, err = tx.Exec(ctx, `INSERT INTO messages (conversation_id, sequence, role, content) VALUES ($1,$2,$3,$4)`,
			conv.ID, msg.Sequence, string(msg.Role), msg.Content)
		if err != nil {
			return cortexerr.Wrap(cortexerr.Internal, "insert message", err)
		}
	}

	_, err = tx.Exec(ctx, `INSERT INTO embeddings
		(conversation_id, vector, proj_x, proj_y, proj_z, start_x, start_y, start_z, magnitude)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		conv.ID, vec, emb.Projected.X, emb.Projected.Y, emb.Projected.Z,
		emb.Start.X, emb.Start.Y, emb.Start.Z, emb.Magnitude)
	if err != nil {
		return cortexerr.Wrap(cortexerr.Internal, "insert embedding", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return cortexerr.Wrap(cortexerr.Internal, "commit tx", err)
	}
	return nil
}

func (p *Postgres) GetConversation(ctx context.Context, id string) (model.Conversation, []model.Message, model.Embedding, error) {
	conv, err := p.scanConversation(ctx, id)
	if err != nil {
		return model.Conversation{}, nil, model.Embedding{}, err
	}

	rows, err := p.pool.Query(ctx, `SELECT sequence, role, content FROM messages WHERE conversation_id=$1 ORDER BY sequence`, id)
	if err != nil {
		return model.Conversation{}, nil, model.Embedding{}, cortexerr.Wrap(cortexerr.Internal, "query messages", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		var role string
		if err := rows.Scan(&m.Sequence, &role, &m.Content); err != nil {
			return model.Conversation{}, nil, model.Embedding{}, cortexerr.Wrap(cortexerr.Internal, "scan message", err)
		}
		m.ConversationID = id
		m.Role = model.Role(role)
		messages = append(messages, m)
	}

	emb, err := p.scanEmbedding(ctx, id)
	if err != nil {
		return model.Conversation{}, nil, model.Embedding{}, err
	}

	return conv, messages, emb, nil
}

func (p *Postgres) scanConversation(ctx context.Context, id string) (model.Conversation, error) {
	var conv model.Conversation
	var topics []byte
	row := p.pool.QueryRow(ctx, `SELECT id, title, summary, topics, cluster_id, cluster_label, message_count, created_at, updated_at
		FROM conversations WHERE id=$1`, id)
	if err := row.Scan(&conv.ID, &conv.Title, &conv.Summary, &topics, &conv.ClusterID, &conv.ClusterLabel, &conv.MessageCount, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return model.Conversation{}, cortexerr.NotFoundf("conversation %s not found", id)
		}
		return model.Conversation{}, cortexerr.Wrap(cortexerr.Internal, "scan conversation", err)
	}
	_ = json.Unmarshal(topics, &conv.Topics)
	return conv, nil
}

func (p *Postgres) scanEmbedding(ctx context.Context, id string) (model.Embedding, error) {
	var emb model.Embedding
	var vec []byte
	row := p.pool.QueryRow(ctx, `SELECT vector, proj_x, proj_y, proj_z, start_x, start_y, start_z, magnitude
		FROM embeddings WHERE conversation_id=$1`, id)
	if err := row.Scan(&vec, &emb.Projected.X, &emb.Projected.Y, &emb.Projected.Z, &emb.Start.X, &emb.Start.Y, &emb.Start.Z, &emb.Magnitude); err != nil {
		if err == pgx.ErrNoRows {
			return model.Embedding{}, nil // absence is valid per I1
		}
		return model.Embedding{}, cortexerr.Wrap(cortexerr.Internal, "scan embedding", err)
	}
	_ = json.Unmarshal(vec, &emb.Vector)
	emb.ConversationID = id
	return emb, nil
}

func (p *Postgres) ListConversations(ctx context.Context, limit, offset int) ([]model.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `SELECT id, title, summary, topics, cluster_id, cluster_label, message_count, created_at, updated_at
		FROM conversations ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.Internal, "list conversations", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		var conv model.Conversation
		var topics []byte
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.Summary, &topics, &conv.ClusterID, &conv.ClusterLabel, &conv.MessageCount, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, cortexerr.Wrap(cortexerr.Internal, "scan conversation", err)
		}
		_ = json.Unmarshal(topics, &conv.Topics)
		out = append(out, conv)
	}
	return out, nil
}

func (p *Postgres) DeleteConversation(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return cortexerr.Wrap(cortexerr.Internal, "delete conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return cortexerr.NotFoundf("conversation %s not found", id)
	}
	return nil
}

func (p *Postgres) GetConversationsByIDs(ctx context.Context, ids []string) (map[string]model.Conversation, map[string]model.Embedding, error) {
	convs := make(map[string]model.Conversation, len(ids))
	embs := make(map[string]model.Embedding, len(ids))
	if len(ids) == 0 {
		return convs, embs, nil
	}

	rows, err := p.pool.Query(ctx, `SELECT id, title, summary, topics, cluster_id, cluster_label, message_count, created_at, updated_at
		FROM conversations WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, nil, cortexerr.Wrap(cortexerr.Internal, "batch get conversations", err)
	}
	defer rows.Close()
	for rows.Next() {
		var conv model.Conversation
		var topics []byte
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.Summary, &topics, &conv.ClusterID, &conv.ClusterLabel, &conv.MessageCount, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, nil, cortexerr.Wrap(cortexerr.Internal, "scan conversation", err)
		}
		_ = json.Unmarshal(topics, &conv.Topics)
		convs[conv.ID] = conv
	}

	erows, err := p.pool.Query(ctx, `SELECT conversation_id, vector, proj_x, proj_y, proj_z, start_x, start_y, start_z, magnitude
		FROM embeddings WHERE conversation_id = ANY($1)`, ids)
	if err != nil {
		return nil, nil, cortexerr.Wrap(cortexerr.Internal, "batch get embeddings", err)
	}
	defer erows.Close()
	for erows.Next() {
		var emb model.Embedding
		var vec []byte
		if err := erows.Scan(&emb.ConversationID, &vec, &emb.Projected.X, &emb.Projected.Y, &emb.Projected.Z, &emb.Start.X, &emb.Start.Y, &emb.Start.Z, &emb.Magnitude); err != nil {
			return nil, nil, cortexerr.Wrap(cortexerr.Internal, "scan embedding", err)
		}
		_ = json.Unmarshal(vec, &emb.Vector)
		embs[emb.ConversationID] = emb
	}

	return convs, embs, nil
}

func (p *Postgres) ListAllEmbeddings(ctx context.Context) ([]model.Conversation, []model.Embedding, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, title, summary, topics, cluster_id, cluster_label, message_count, created_at, updated_at
		FROM conversations ORDER BY id`)
	if err != nil {
		return nil, nil, cortexerr.Wrap(cortexerr.Internal, "list all conversations", err)
	}
	var convs []model.Conversation
	for rows.Next() {
		var conv model.Conversation
		var topics []byte
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.Summary, &topics, &conv.ClusterID, &conv.ClusterLabel, &conv.MessageCount, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			rows.Close()
			return nil, nil, cortexerr.Wrap(cortexerr.Internal, "scan conversation", err)
		}
		_ = json.Unmarshal(topics, &conv.Topics)
		convs = append(convs, conv)
	}
	rows.Close()
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	_, embMap, err := p.GetConversationsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	embs := make([]model.Embedding, 0, len(embMap))
	for _, c := range convs {
		if e, ok := embMap[c.ID]; ok {
			embs = append(embs, e)
		}
	}
	return convs, embs, nil
}

func (p *Postgres) UpdateProjection(ctx context.Context, id string, point model.Point3D, clusterID int, clusterLabel string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return cortexerr.Wrap(cortexerr.Internal, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `UPDATE embeddings SET proj_x=$1, proj_y=$2, proj_z=$3, magnitude=$4 WHERE conversation_id=$5`,
		point.X, point.Y, point.Z, point.Norm(), id)
	if err != nil {
		return cortexerr.Wrap(cortexerr.Internal, "update embedding projection", err)
	}
	_, err = tx.Exec(ctx, `UPDATE conversations SET cluster_id=$1, cluster_label=$2, updated_at=$3 WHERE id=$4`,
		clusterID, clusterLabel, time.Now().UTC(), id)
	if err != nil {
		return cortexerr.Wrap(cortexerr.Internal, "update conversation cluster", err)
	}
	return tx.Commit(ctx)
}
