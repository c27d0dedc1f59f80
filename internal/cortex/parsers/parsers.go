// Package parsers implements the reference vendor-format detector and
// extractors that back the ingest.Parser boundary (SPEC_FULL.md §1: HTML
// vendor-format parsing is an external collaborator, specified only at the
// ingest.Parser interface). This is the default implementation, grounded on
// original_source/backend/parsers' ParserFactory detection order and
// ChatGPT/Claude extraction strategies, translated from BeautifulSoup DOM
// scanning to golang.org/x/net/html the way internal/web/web.go walks a
// parsed document rather than scraping raw bytes (see DESIGN.md). It
// recognises the two vendor export shapes the original supports and returns
// cortexerr.UnsupportedFormat for anything else.
package parsers

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"manifold/internal/cortex/cortexerr"
	"manifold/internal/cortex/ingest"
	"manifold/internal/cortex/model"
)

const maxTitleLen = 50

var (
	wsRe         = regexp.MustCompile(`\s+`)
	jsonAssignRe = regexp.MustCompile(`(?:var|const)\s+(?:jsonData|conversations)\s*=\s*\[`)
)

// format is the detected vendor export type.
type format string

const (
	formatChatGPT format = "chatgpt"
	formatClaude  format = "claude"
	formatUnknown format = ""
)

// Default is the default ingest.Parser implementation wired by cmd/cortexd.
type Default struct{}

// New returns the default vendor-detecting parser.
func New() Default { return Default{} }

// Parse detects the export's vendor format and extracts every conversation
// it contains, mirroring ParserFactory.create_parser's detect-then-dispatch
// order (ChatGPT checked before Claude).
func (Default) Parse(raw []byte) ([]ingest.ParsedConversation, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.UnsupportedFormat, "parse HTML export", err)
	}

	switch detectFormat(doc) {
	case formatChatGPT:
		convs := parseChatGPT(doc)
		if len(convs) > 0 {
			return convs, nil
		}
		return nil, nil
	case formatClaude:
		conv, ok := parseClaude(doc)
		if !ok {
			return nil, nil
		}
		return []ingest.ParsedConversation{conv}, nil
	default:
		return nil, cortexerr.New(cortexerr.UnsupportedFormat, "unrecognised chat export format")
	}
}

// detectFormat mirrors ParserFactory.detect_format_type: title tag first,
// then vendor-flavoured class/attribute markers, then meta tags.
func detectFormat(doc *html.Node) format {
	if title := findFirst(doc, isTag("title")); title != nil {
		t := strings.ToLower(nodeText(title))
		if strings.Contains(t, "chatgpt") {
			return formatChatGPT
		}
		if strings.Contains(t, "claude") {
			return formatClaude
		}
	}

	hasClassConv := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasAttrContaining(n, "class", "conversation")
	}) != nil
	hasAuthorRole := findFirst(doc, func(n *html.Node) bool {
		_, ok := attrVal(n, "data-message-author-role")
		return n.Type == html.ElementNode && ok
	}) != nil
	if hasClassConv || hasAuthorRole {
		return formatChatGPT
	}
	if findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasAttrContaining(n, "data-testid", "conversation")
	}) != nil {
		return formatClaude
	}

	for _, meta := range findAll(doc, isTag("meta")) {
		content, _ := attrVal(meta, "content")
		name, _ := attrVal(meta, "name")
		lower := strings.ToLower(content + " " + name)
		if strings.Contains(lower, "openai") || strings.Contains(lower, "chatgpt") {
			return formatChatGPT
		}
		if strings.Contains(lower, "anthropic") || strings.Contains(lower, "claude") {
			return formatClaude
		}
	}

	return formatUnknown
}

// --- ChatGPT ---------------------------------------------------------------

// parseChatGPT tries the embedded-JSON conversation tree first (newer
// exports) and falls back to scraping data-message-author-role elements,
// mirroring ChatGPTParser.parse's JSON-then-HTML fallback order.
func parseChatGPT(doc *html.Node) []ingest.ParsedConversation {
	if convs := parseChatGPTJSON(doc); len(convs) > 0 {
		return convs
	}
	if conv, ok := parseChatGPTHTML(doc); ok {
		return []ingest.ParsedConversation{conv}
	}
	return nil
}

type chatGPTAuthor struct {
	Role string `json:"role"`
}

type chatGPTContent struct {
	Parts []json.RawMessage `json:"parts"`
}

type chatGPTMessage struct {
	Author  chatGPTAuthor   `json:"author"`
	Content *chatGPTContent `json:"content"`
}

type chatGPTNode struct {
	Message  *chatGPTMessage `json:"message"`
	Parent   *string         `json:"parent"`
	Children []string        `json:"children"`
}

type chatGPTConversation struct {
	Title   string                 `json:"title"`
	Mapping map[string]chatGPTNode `json:"mapping"`
}

// parseChatGPTJSON extracts every embedded conversation array from the
// document's <script> elements, bracket-balancing each one the way
// _extract_json_array does, then walks each conversation's message tree
// from its parentless root.
func parseChatGPTJSON(doc *html.Node) []ingest.ParsedConversation {
	var out []ingest.ParsedConversation

	for _, script := range findAll(doc, isTag("script")) {
		body := scriptText(script)
		loc := jsonAssignRe.FindStringIndex(body)
		if loc == nil {
			continue
		}
		arrayText := extractBalancedArray(body[loc[1]-1:])
		if arrayText == "" {
			continue
		}

		var conversations []chatGPTConversation
		if err := json.Unmarshal([]byte(arrayText), &conversations); err != nil {
			continue
		}
		for _, conv := range conversations {
			messages := traverseMessageTree(conv.Mapping)
			if len(messages) == 0 {
				continue
			}
			title := conv.Title
			if title == "" {
				title = titleFromFirstUserMessage(messages)
			}
			out = append(out, ingest.ParsedConversation{Title: title, Messages: messages})
		}
	}

	return out
}

// extractBalancedArray returns the shortest prefix of text ('[' onward)
// whose brackets balance, tracking quoted-string state so braces inside
// string content are ignored.
func extractBalancedArray(text string) string {
	depth := 0
	inString := false
	escaped := false

	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '[', '{':
			if !inString {
				depth++
			}
		case ']', '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[:i+1]
				}
			}
		}
	}
	return ""
}

// traverseMessageTree walks the mapping from its parentless root, mirroring
// _traverse_message_tree/_extract_messages_flat: depth-first from the root
// when one exists, otherwise every node in map iteration order (Go maps
// have no defined order, so the flat fallback sorts by nothing meaningful —
// acceptable since the tree-rooted path is the common case for real
// exports).
func traverseMessageTree(mapping map[string]chatGPTNode) []model.Message {
	var rootID string
	for id, node := range mapping {
		if node.Parent == nil || id == "client-created-root" {
			rootID = id
			break
		}
	}

	var messages []model.Message
	if rootID != "" {
		messages = walkNode(mapping, rootID, map[string]bool{})
	}
	if len(messages) == 0 {
		messages = flattenMapping(mapping)
	}
	for i := range messages {
		messages[i].Sequence = i
	}
	return messages
}

func walkNode(mapping map[string]chatGPTNode, id string, visited map[string]bool) []model.Message {
	if visited[id] {
		return nil
	}
	visited[id] = true

	node, ok := mapping[id]
	if !ok {
		return nil
	}

	var messages []model.Message
	if msg := extractMessage(node.Message); msg != nil {
		messages = append(messages, *msg)
	}
	for _, childID := range node.Children {
		messages = append(messages, walkNode(mapping, childID, visited)...)
	}
	return messages
}

func flattenMapping(mapping map[string]chatGPTNode) []model.Message {
	var messages []model.Message
	for _, node := range mapping {
		if msg := extractMessage(node.Message); msg != nil {
			messages = append(messages, *msg)
		}
	}
	return messages
}

// extractMessage joins a ChatGPT message's content parts, skipping system
// messages and empty content, mirroring _traverse_message_tree's filter.
func extractMessage(msg *chatGPTMessage) *model.Message {
	if msg == nil || msg.Content == nil {
		return nil
	}
	role := normalizeRole(msg.Author.Role)
	if role == model.RoleSystem {
		return nil
	}

	var parts []string
	for _, raw := range msg.Content.Parts {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			parts = append(parts, s)
			continue
		}
		var obj struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.Text != "" {
			parts = append(parts, obj.Text)
		}
	}
	content := strings.TrimSpace(strings.Join(parts, "\n"))
	if content == "" {
		return nil
	}
	return &model.Message{Role: role, Content: content}
}

// parseChatGPTHTML is the fallback for exports with no embedded JSON: it
// scrapes every data-message-author-role element in document order, taking
// each element's full descendant text rather than stopping at the first
// nested tag — a rendered message containing an inner <div> (a code block,
// say) no longer gets truncated.
func parseChatGPTHTML(doc *html.Node) (ingest.ParsedConversation, bool) {
	nodes := findAll(doc, func(n *html.Node) bool {
		_, ok := attrVal(n, "data-message-author-role")
		return n.Type == html.ElementNode && ok
	})

	var messages []model.Message
	for i, n := range nodes {
		roleVal, _ := attrVal(n, "data-message-author-role")
		role := normalizeRole(roleVal)
		if role == model.RoleSystem {
			continue
		}
		content := cleanText(nodeText(n))
		if content == "" {
			continue
		}
		messages = append(messages, model.Message{Role: role, Content: content, Sequence: i})
	}
	if len(messages) == 0 {
		return ingest.ParsedConversation{}, false
	}
	return ingest.ParsedConversation{Title: titleFromFirstUserMessage(messages), Messages: messages}, true
}

// --- Claude ------------------------------------------------------------

// parseClaude scrapes turn elements keyed by a data-testid containing
// "user"/"human"/"assistant", mirroring ClaudeParser's DOM role inference,
// again taking each matched element's full subtree text.
func parseClaude(doc *html.Node) (ingest.ParsedConversation, bool) {
	nodes := findAll(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		v, ok := attrVal(n, "data-testid")
		if !ok {
			return false
		}
		lower := strings.ToLower(v)
		return strings.Contains(lower, "user") || strings.Contains(lower, "assistant") || strings.Contains(lower, "human")
	})

	var messages []model.Message
	for i, n := range nodes {
		testID, _ := attrVal(n, "data-testid")
		role := model.RoleAssistant
		lower := strings.ToLower(testID)
		if strings.Contains(lower, "user") || strings.Contains(lower, "human") {
			role = model.RoleUser
		}
		content := cleanText(nodeText(n))
		if content == "" {
			continue
		}
		messages = append(messages, model.Message{Role: role, Content: content, Sequence: i})
	}
	if len(messages) == 0 {
		return ingest.ParsedConversation{}, false
	}
	return ingest.ParsedConversation{Title: titleFromFirstUserMessage(messages), Messages: messages}, true
}

// --- DOM helpers ---------------------------------------------------------
// Grounded on internal/web/web.go's recursive *html.Node walkers
// (extractTitle/findNodeByTag/extractText).

func isTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == tag }
}

func attrVal(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttrContaining(n *html.Node, key, substr string) bool {
	v, ok := attrVal(n, key)
	return ok && strings.Contains(strings.ToLower(v), substr)
}

// findFirst returns the first node in document order matching, or nil.
func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every node in document order matching, including nested
// matches.
func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// scriptText returns a <script> element's literal text content.
func scriptText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// nodeText joins every text node under n, depth-first.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// --- shared helpers ------------------------------------------------------

// normalizeRole maps vendor-specific role spellings onto the three
// canonical roles, mirroring BaseParser.normalize_role's mapping table
// (unrecognised roles default to assistant, as the original does).
func normalizeRole(role string) model.Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user", "human", "you":
		return model.RoleUser
	case "system":
		return model.RoleSystem
	default:
		return model.RoleAssistant
	}
}

// titleFromFirstUserMessage mirrors generate_title_from_first_message:
// the first user message, truncated to maxTitleLen with an ellipsis.
func titleFromFirstUserMessage(messages []model.Message) string {
	for _, m := range messages {
		if m.Role != model.RoleUser || m.Content == "" {
			continue
		}
		if len(m.Content) <= maxTitleLen {
			return m.Content
		}
		return m.Content[:maxTitleLen] + "..."
	}
	return "Untitled Conversation"
}

func cleanText(s string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}
