package ingest

import (
	"context"
	"encoding/json"

	"manifold/internal/cortex/objectstore"
	"manifold/internal/cortex/projector"
	"manifold/internal/cortex/store"
)

// Reproject refits the projection + clustering engine over every embedding
// currently in st and writes the resulting 3-D point, cluster id, and
// cluster label back through the store (SPEC_FULL.md §4.3). Projection
// failure (most commonly INSUFFICIENT_DATA with fewer than two
// conversations) is returned to the caller, who is expected to log it as a
// warning rather than treat it as fatal to ingestion (§4.1 "Post-ingest
// re-projection"). When mirror is non-nil, the fitted result is also
// mirrored to object storage as a model artifact (SPEC_FULL.md §4.9).
func Reproject(ctx context.Context, st store.Store, cfg projector.Config, mirror *objectstore.Mirror) error {
	convs, embs, err := st.ListAllEmbeddings(ctx)
	if err != nil {
		return err
	}

	vectors := make([][]float32, len(embs))
	for i, e := range embs {
		vectors[i] = e.Vector
	}

	result, err := projector.Run(vectors, convs, cfg)
	if err != nil {
		return err
	}

	for i, conv := range convs {
		label := result.Labels[result.ClusterID[i]]
		if err := st.UpdateProjection(ctx, conv.ID, result.Points[i], result.ClusterID[i], label); err != nil {
			return err
		}
	}

	if mirror != nil {
		if artifact, err := json.Marshal(result); err == nil {
			_ = mirror.MirrorArtifact(ctx, store.NewID()+".json", artifact)
		}
	}
	return nil
}
