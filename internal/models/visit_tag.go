package models

// VisitTag is a user label attached to a visit, e.g. {"mood", "tired"}
type VisitTag struct {
	ID      int64  `json:"id" db:"id"`
	VisitID int64  `json:"visitId" db:"visit_id"`
	TagType string `json:"tagType" db:"tag_type"`
	Value   string `json:"value" db:"value"`
}

// CreateVisitTagRequest represents a request to tag a visit
type CreateVisitTagRequest struct {
	TagType string `json:"tagType" binding:"required,max=64"`
	Value   string `json:"value" binding:"max=256"`
}
