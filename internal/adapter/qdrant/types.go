package qdrant

import (
	"encoding/json"

	"github.com/bkyoung/mnemosyne/internal/domain"
)

// collectionConfig is the create-collection request body: a named
// dense vector plus a named sparse vector for hybrid retrieval.
type collectionConfig struct {
	Vectors       map[string]vectorParams       `json:"vectors"`
	SparseVectors map[string]sparseVectorParams `json:"sparse_vectors"`
}

type vectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type sparseVectorParams struct{}

// sparseVector is Qdrant's index/value sparse representation.
type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// point is one stored report with both vectors and the structured
// report as payload.
type point struct {
	ID      string                 `json:"id"`
	Vector  map[string]interface{} `json:"vector"`
	Payload pointPayload           `json:"payload"`
}

type pointPayload struct {
	Report domain.StructuredReport `json:"report"`
}

type upsertRequest struct {
	Points []point `json:"points"`
}

// queryRequest targets one named vector via the universal query API.
type queryRequest struct {
	Query       interface{} `json:"query"`
	Using       string      `json:"using"`
	Limit       int         `json:"limit"`
	WithPayload bool        `json:"with_payload"`
}

type queryResponse struct {
	Result struct {
		Points []scoredPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

type scoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload json.RawMessage `json:"payload"`
}

type retrieveRequest struct {
	IDs         []string `json:"ids"`
	WithPayload bool     `json:"with_payload"`
}

type retrieveResponse struct {
	Result []struct {
		ID      json.RawMessage `json:"id"`
		Payload json.RawMessage `json:"payload"`
	} `json:"result"`
}

type collectionsResponse struct {
	Result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	} `json:"result"`
}

type collectionInfoResponse struct {
	Result struct {
		Status         string `json:"status"`
		PointsCount    int    `json:"points_count"`
		SegmentsCount  int    `json:"segments_count"`
		IndexedVectors int    `json:"indexed_vectors_count"`
	} `json:"result"`
}

// CollectionInfo summarizes the corpus collection.
type CollectionInfo struct {
	Name        string
	Exists      bool
	Status      string
	PointsCount int
}

type errorResponse struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}
