// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package wfformat implements the Serializer (spec §4.9): the on-disk
// JSON shape for a workflow graph, including the legacy "module
// bundle" wrapper and the "TaskType (ID: 123)" jump-target string
// encoding still produced by the original editor.
package wfformat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/forkbombeu/fleetctl/internal/graph"
)

// EngineVersion is stamped into newly-saved files' metadata.
const EngineVersion = "1.0.0"

var jumpTargetRe = regexp.MustCompile(`\(ID:\s*(\d+)\)`)

type document struct {
	Cards         []cardDoc         `json:"cards"`
	Connections   []connectionDoc   `json:"connections"`
	ViewTransform []float64         `json:"view_transform"`
	ViewCenter    []float64         `json:"view_center"`
	Metadata      metadataDoc       `json:"metadata"`
}

type moduleBundleDoc struct {
	ModuleInfo json.RawMessage `json:"module_info"`
	Workflow   document        `json:"workflow"`
}

type cardDoc struct {
	ID         int            `json:"id"`
	TaskType   string         `json:"task_type"`
	PosX       float64        `json:"pos_x"`
	PosY       float64        `json:"pos_y"`
	Parameters map[string]any `json:"parameters"`
	CustomName string         `json:"custom_name"`
}

type connectionDoc struct {
	StartCardID int    `json:"start_card_id"`
	EndCardID   int    `json:"end_card_id"`
	Type        string `json:"type"`
}

type metadataDoc struct {
	CreatedDate    string            `json:"created_date"`
	EngineVersion  string            `json:"engine_version"`
	ModuleVersions map[string]string `json:"module_versions"`
}

// Load parses raw JSON bytes into a Graph, unwrapping the "module
// bundle" shape `{module_info, workflow: {...}}` when present and
// deriving branch edges from each card's jump parameters.
func Load(data []byte) (*graph.Graph, error) {
	doc, err := parseDocument(data)
	if err != nil {
		return nil, err
	}
	return documentToGraph(doc), nil
}

func parseDocument(data []byte) (document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return document{}, fmt.Errorf("wfformat: invalid json: %w", err)
	}
	if _, ok := probe["workflow"]; ok {
		var bundle moduleBundleDoc
		if err := json.Unmarshal(data, &bundle); err != nil {
			return document{}, fmt.Errorf("wfformat: invalid module bundle: %w", err)
		}
		return bundle.Workflow, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("wfformat: invalid workflow document: %w", err)
	}
	return doc, nil
}

func documentToGraph(doc document) *graph.Graph {
	g := graph.New()
	g.CreatedDate = doc.Metadata.CreatedDate
	g.EngineVersion = doc.Metadata.EngineVersion
	g.ModuleVersions = doc.Metadata.ModuleVersions
	g.ViewTransform = doc.ViewTransform
	g.ViewCenter = doc.ViewCenter

	for _, c := range doc.Cards {
		params := parseJumpParams(c.Parameters)
		g.AddCard(&graph.Card{
			CardID:     c.ID,
			TaskType:   c.TaskType,
			PosX:       c.PosX,
			PosY:       c.PosY,
			Parameters: params,
			CustomName: c.CustomName,
		})
	}

	for _, conn := range doc.Connections {
		if conn.Type != string(graph.EdgeSequential) {
			// Non-sequential connections in a loaded file are stale
			// GUI artifacts; branch edges are rebuilt below from each
			// card's parameters, not read from disk (spec §4.9).
			continue
		}
		g.Edges = append(g.Edges, graph.Edge{
			FromCard: conn.StartCardID,
			ToCard:   conn.EndCardID,
			Type:     graph.EdgeSequential,
		})
	}

	g.DeriveBranchEdges()
	return g
}

// parseJumpParams rewrites any "TaskType (ID: 123)" style string
// values for the two jump-target parameters into integers, and the
// literal "none" (or absence) into nil.
func parseJumpParams(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, key := range []string{"success_jump_target_id", "failure_jump_target_id"} {
		v, ok := out[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(s), "none") || strings.TrimSpace(s) == "" {
			out[key] = nil
			continue
		}
		if m := jumpTargetRe.FindStringSubmatch(s); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				out[key] = n
				continue
			}
		}
		out[key] = nil
	}
	return out
}

// Save serializes g as the canonical document shape and returns the
// bytes (without writing to disk); WriteFile wraps this for the
// atomic-write path.
func Save(g *graph.Graph) ([]byte, error) {
	doc := graphToDocument(g)
	return json.MarshalIndent(doc, "", "  ")
}

func graphToDocument(g *graph.Graph) document {
	doc := document{
		ViewTransform: g.ViewTransform,
		ViewCenter:    g.ViewCenter,
		Metadata: metadataDoc{
			CreatedDate:    g.CreatedDate,
			EngineVersion:  g.EngineVersion,
			ModuleVersions: g.ModuleVersions,
		},
	}
	if doc.Metadata.CreatedDate == "" {
		doc.Metadata.CreatedDate = time.Now().UTC().Format(time.RFC3339)
	}
	if doc.Metadata.EngineVersion == "" {
		doc.Metadata.EngineVersion = EngineVersion
	}

	ids := make([]int, 0, len(g.Cards))
	for id := range g.Cards {
		ids = append(ids, id)
	}
	sortInts(ids)

	for _, id := range ids {
		c := g.Cards[id]
		doc.Cards = append(doc.Cards, cardDoc{
			ID:         c.CardID,
			TaskType:   c.TaskType,
			PosX:       c.PosX,
			PosY:       c.PosY,
			Parameters: c.Parameters,
			CustomName: c.CustomName,
		})
	}

	for _, e := range g.Edges {
		if e.Type != graph.EdgeSequential {
			continue
		}
		doc.Connections = append(doc.Connections, connectionDoc{
			StartCardID: e.FromCard,
			EndCardID:   e.ToCard,
			Type:        string(graph.EdgeSequential),
		})
	}
	if doc.Connections == nil {
		doc.Connections = []connectionDoc{}
	}
	return doc
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Writer implements taskmanager.Saver: atomic disk writes with an
// optional timestamped backup copy (spec §4.9).
type Writer struct {
	// BackupDir, if non-empty, receives a timestamped copy of every
	// saved file, relative to the target file's directory.
	BackupDir string
}

// Save writes g to path atomically (temp file + rename) and, if
// configured, drops a timestamped backup copy.
func (w Writer) Save(path string, g *graph.Graph) error {
	data, err := Save(g)
	if err != nil {
		return err
	}
	if err := writeAtomic(path, data); err != nil {
		return err
	}
	if w.BackupDir != "" {
		return w.writeBackup(path, data)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".wfformat-*.tmp")
	if err != nil {
		return fmt.Errorf("wfformat: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("wfformat: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("wfformat: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("wfformat: rename into place: %w", err)
	}
	return nil
}

func (w Writer) writeBackup(path string, data []byte) error {
	dir := filepath.Join(filepath.Dir(path), w.BackupDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("wfformat: create backups dir: %w", err)
	}
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	stamp := time.Now().UTC().Format("20060102_150405")
	backupPath := filepath.Join(dir, fmt.Sprintf("%s_backup_%s%s", name, stamp, ext))
	return os.WriteFile(backupPath, data, 0o644)
}

// ReadFile loads a workflow graph from disk.
func ReadFile(path string) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wfformat: read %s: %w", path, err)
	}
	return Load(data)
}
