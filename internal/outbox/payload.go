package outbox

import "github.com/ctp/cognitive-triangulation-pipeline/internal/model"

// POIBatchPayload is the shape extraction producers write for
// model.OutboxPOIBatch rows: every POI discovered in one file.
type POIBatchPayload struct {
	FileID string      `json:"file_id"`
	POIs   []model.POI `json:"pois"`
}

// DirectoryFindingPayload aggregates the files a directory-level aggregation
// pass has finished reconciling.
type DirectoryFindingPayload struct {
	Directory string   `json:"directory"`
	FileIDs   []string `json:"file_ids"`
}

// RelationshipFindingPayload is an unresolved relationship observation,
// shaped like internal/extract.RawRelationship but with POI ids already
// resolved by the producer (spec §4.2: "if the relationship row does not
// yet exist, create it PENDING").
type RelationshipFindingPayload struct {
	SourcePOIID   string                  `json:"source_poi_id"`
	TargetPOIID   string                  `json:"target_poi_id"`
	From          string                  `json:"from"`
	To            string                  `json:"to"`
	Type          model.RelationshipType  `json:"type"`
	Reason        string                  `json:"reason"`
	EvidenceItems []string                `json:"evidence_items"`
	SourceMode    string                  `json:"source_mode"`
}
