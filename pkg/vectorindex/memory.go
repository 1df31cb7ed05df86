package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"docchat-go/pkg/apperr"
)

// Memory 是进程内的向量索引，用于本地开发和测试。
type Memory struct {
	mu         sync.RWMutex
	namespaces map[string]*memoryNamespace
}

type memoryNamespace struct {
	order   []string
	vectors map[string]Vector
}

// NewMemory 创建一个空的内存索引。
func NewMemory() *Memory {
	return &Memory{namespaces: make(map[string]*memoryNamespace)}
}

func (m *Memory) EnsureNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(namespace)
	return nil
}

func (m *Memory) ensure(namespace string) *memoryNamespace {
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = &memoryNamespace{vectors: make(map[string]Vector)}
		m.namespaces[namespace] = ns
	}
	return ns
}

func (m *Memory) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.ErrRetrieval, "upsert", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.ensure(namespace)
	for _, v := range vectors {
		if _, exists := ns.vectors[v.ID]; !exists {
			ns.order = append(ns.order, v.ID)
		}
		v.Values = append([]float32(nil), v.Values...)
		ns.vectors[v.ID] = v
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.ErrRetrieval, "query", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil, apperr.Wrap(apperr.ErrRetrieval, "query", fmt.Errorf("%w: %s", ErrNamespaceNotFound, namespace))
	}

	matches := make([]Match, 0, len(ns.order))
	for _, id := range ns.order {
		v := ns.vectors[id]
		matches = append(matches, Match{ID: id, Score: Cosine(vector, v.Values), Metadata: v.Metadata})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK >= 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Vectors 返回命名空间中按首次写入顺序排列的全部向量。
func (m *Memory) Vectors(namespace string) []Vector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil
	}
	out := make([]Vector, 0, len(ns.order))
	for _, id := range ns.order {
		out = append(out, ns.vectors[id])
	}
	return out
}

// Cosine 计算两个向量的余弦相似度。维度不同或任一为零向量时返回 0。
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
