package domain

import "time"

// PayloadImagePath is the payload key holding a document's source image path.
const PayloadImagePath = "image_path"

// Metric is the similarity metric of a collection.
type Metric string

const (
	MetricCosine Metric = "cosine"
)

// Document is an ingested image. Immutable once stored.
type Document struct {
	ID        string
	ImagePath string
	Metadata  map[string]string
}

// Payload returns the stored payload: metadata plus the image path.
func (d Document) Payload() map[string]string {
	p := make(map[string]string, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		p[k] = v
	}
	p[PayloadImagePath] = d.ImagePath
	return p
}

// DocumentFromPayload rebuilds a document from a stored payload.
func DocumentFromPayload(id string, payload map[string]string) Document {
	doc := Document{ID: id, ImagePath: payload[PayloadImagePath]}
	for k, v := range payload {
		if k == PayloadImagePath {
			continue
		}
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]string, len(payload))
		}
		doc.Metadata[k] = v
	}
	return doc
}

// Record is a document with its embedding, as written to a store.
type Record struct {
	Document Document
	Vector   []float32
}

// Collection describes the fixed schema of a named document container.
type Collection struct {
	Name      string
	Dimension int
	Metric    Metric
	CreatedAt time.Time
}

// Hit is a single ranked search result.
type Hit struct {
	ID        string            `json:"id"`
	ImagePath string            `json:"image_path"`
	Score     float64           `json:"score"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Paths projects hits to their image paths, keeping order.
func Paths(hits []Hit) []string {
	paths := make([]string, len(hits))
	for i, h := range hits {
		paths[i] = h.ImagePath
	}
	return paths
}
