package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/store"
)

// Documents is an in-memory store.Documents.
type Documents struct {
	mu   sync.Mutex
	docs map[string]models.Document
	// UpdateErr, when set, is returned by Update.
	UpdateErr error
}

var _ store.Documents = (*Documents)(nil)

func NewDocuments() *Documents {
	return &Documents{docs: make(map[string]models.Document)}
}

// Seed stores doc as is.
func (d *Documents) Seed(doc models.Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[doc.DocumentID] = doc
}

func (d *Documents) Get(_ context.Context, documentID string) (*models.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[documentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &doc, nil
}

func (d *Documents) Claim(_ context.Context, documentID string, now time.Time) (*models.Document, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[documentID]
	if !ok {
		doc = models.Document{DocumentID: documentID, Status: models.StatusQueued, CreatedAt: now, UpdatedAt: now}
		d.docs[documentID] = doc
		return &doc, true, nil
	}
	if doc.Status != models.StatusFailed {
		return &doc, false, nil
	}
	doc.Status = models.StatusQueued
	doc.ErrorDetails = ""
	doc.UpdatedAt = now
	d.docs[documentID] = doc
	return &doc, true, nil
}

func (d *Documents) Update(_ context.Context, documentID string, patch store.DocumentPatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.UpdateErr != nil {
		return d.UpdateErr
	}
	doc, ok := d.docs[documentID]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Status != "" {
		doc.Status = patch.Status
	}
	if patch.Progress != nil {
		doc.Progress = *patch.Progress
	}
	if patch.ErrorDetails != nil {
		doc.ErrorDetails = *patch.ErrorDetails
	}
	if patch.ObjectID != "" {
		doc.ObjectID = patch.ObjectID
	}
	if patch.Title != "" {
		doc.Title = patch.Title
	}
	if patch.TotalItems != nil {
		doc.TotalItems = *patch.TotalItems
	}
	if patch.ArtifactURI != "" {
		doc.ArtifactURI = patch.ArtifactURI
	}
	if patch.Analysis != "" {
		doc.Analysis = patch.Analysis
	}
	if patch.WorkflowExecutionID != "" {
		doc.WorkflowExecutionID = patch.WorkflowExecutionID
	}
	if !patch.UpdatedAt.IsZero() {
		doc.UpdatedAt = patch.UpdatedAt
	}
	d.docs[documentID] = doc
	return nil
}

// Plans is an in-memory store.Plans. It keeps every version written.
type Plans struct {
	mu      sync.Mutex
	plans   map[string]models.Plan
	history map[string][]models.Plan
	// PutErr, when set, is returned by Put.
	PutErr error
}

var _ store.Plans = (*Plans)(nil)

func NewPlans() *Plans {
	return &Plans{plans: make(map[string]models.Plan), history: make(map[string][]models.Plan)}
}

func (p *Plans) Get(_ context.Context, documentID string) (*models.Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, ok := p.plans[documentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := plan.Clone()
	return &c, nil
}

func (p *Plans) Put(_ context.Context, plan models.Plan) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PutErr != nil {
		return p.PutErr
	}
	p.plans[plan.DocumentID] = plan.Clone()
	p.history[plan.DocumentID] = append(p.history[plan.DocumentID], plan.Clone())
	return nil
}

// History returns every plan written for documentID, oldest first.
func (p *Plans) History(documentID string) []models.Plan {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Plan(nil), p.history[documentID]...)
}

// Checkpoints is an in-memory store.Checkpoints.
type Checkpoints struct {
	mu     sync.Mutex
	cps    map[string]map[string]models.Checkpoint
	writes map[string]int
}

var _ store.Checkpoints = (*Checkpoints)(nil)

func NewCheckpoints() *Checkpoints {
	return &Checkpoints{
		cps:    make(map[string]map[string]models.Checkpoint),
		writes: make(map[string]int),
	}
}

func (c *Checkpoints) Put(_ context.Context, cp models.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cps[cp.DocumentID] == nil {
		c.cps[cp.DocumentID] = make(map[string]models.Checkpoint)
	}
	c.cps[cp.DocumentID][cp.ChunkID] = cp
	c.writes[cp.DocumentID+"/"+cp.ChunkID]++
	return nil
}

func (c *Checkpoints) Get(_ context.Context, documentID, chunkID string) (*models.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.cps[documentID][chunkID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cp, nil
}

func (c *Checkpoints) List(_ context.Context, documentID string) ([]models.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Checkpoint, 0, len(c.cps[documentID]))
	for _, cp := range c.cps[documentID] {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out, nil
}

// Writes returns how many times the checkpoint was written.
func (c *Checkpoints) Writes(documentID, chunkID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[documentID+"/"+chunkID]
}

// Connections is an in-memory store.Connections.
type Connections struct {
	mu    sync.Mutex
	conns map[string]models.Connection
}

var _ store.Connections = (*Connections)(nil)

func NewConnections() *Connections {
	return &Connections{conns: make(map[string]models.Connection)}
}

func (c *Connections) Put(_ context.Context, conn models.Connection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn.ConnectionID] = conn
	return nil
}

func (c *Connections) Delete(_ context.Context, connectionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, connectionID)
	return nil
}

func (c *Connections) List(_ context.Context, now time.Time) ([]models.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Connection
	for _, conn := range c.conns {
		if conn.ExpireAt.After(now) {
			out = append(out, conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out, nil
}

// Has reports whether the connection is registered.
func (c *Connections) Has(connectionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.conns[connectionID]
	return ok
}

// Blobs is an in-memory store.Blobs.
type Blobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	writes  map[string]int
}

var _ store.Blobs = (*Blobs)(nil)

func NewBlobs() *Blobs {
	return &Blobs{objects: make(map[string][]byte), writes: make(map[string]int)}
}

func (b *Blobs) Write(_ context.Context, key, _ string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	b.writes[key]++
	return nil
}

func (b *Blobs) Read(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (b *Blobs) URI(key string) string {
	return "mem://" + key
}

// Delete removes an object.
func (b *Blobs) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
}

// Object returns the stored bytes of key.
func (b *Blobs) Object(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	return data, ok
}

// Writes returns how many times key was written.
func (b *Blobs) Writes(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes[key]
}
