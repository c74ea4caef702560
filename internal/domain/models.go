package domain

import (
	"time"
)

// Chunk is one bounded segment of document text submitted as a translation unit.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// TranslationResult is the outcome of translating a single chunk.
type TranslationResult struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	Succeeded bool   `json:"succeeded"`
	Attempts  int    `json:"attempts"`
}

// TokenMap maps placeholder tokens such as <TOKEN_1> to the original value.
type TokenMap map[string]string

// BlockLabel names the layout role of a content block.
type BlockLabel string

const (
	LabelTitle         BlockLabel = "title"
	LabelSectionHeader BlockLabel = "section-header"
	LabelListItem      BlockLabel = "list-item"
	LabelPageHeader    BlockLabel = "page-header"
	LabelPageFooter    BlockLabel = "page-footer"
	LabelPicture       BlockLabel = "picture"
	LabelParagraph     BlockLabel = "paragraph"
)

// Block is one positioned piece of extracted content.
type Block struct {
	ID    string     `json:"id"` // e.g. BLOCK_0001
	Label BlockLabel `json:"label"`
	Text  string     `json:"text"`
	Page  int        `json:"page"`
}

// Extraction is the output of a document extractor: plain text carrying
// [BLOCK_xxxx] markers plus the ordered block metadata.
type Extraction struct {
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks"`
	Pages   int     `json:"pages"`
	Digital bool    `json:"digital"`
}

// Node is a TipTap document node.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is a TipTap text mark.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Stage identifies a pipeline state.
type Stage string

const (
	StageStarted        Stage = "started"
	StageDetecting      Stage = "detecting"
	StageExtracting     Stage = "extracting"
	StageAnonymizing    Stage = "anonymizing"
	StageChunking       Stage = "chunking"
	StageTranslating    Stage = "translating"
	StageReconstructing Stage = "reconstructing"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// NotificationStatus is the status field of a client notification.
type NotificationStatus string

const (
	StatusProcessing NotificationStatus = "processing"
	StatusCompleted  NotificationStatus = "completed"
	StatusError      NotificationStatus = "error"
)

// Notification is the payload pushed to a client over its channel.
type Notification struct {
	Status            NotificationStatus `json:"status"`
	Stage             Stage              `json:"stage,omitempty"`
	DocumentID        string             `json:"document_id,omitempty"`
	Message           string             `json:"message,omitempty"`
	Progress          *Progress          `json:"progress,omitempty"`
	TranslatedContent *Node              `json:"translated_content,omitempty"`
	ProcessingTime    float64            `json:"processing_time,omitempty"`
	Performance       *Performance       `json:"performance,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
}

// Progress reports chunk translation progress.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Performance carries stage timing metrics, in seconds.
type Performance struct {
	TotalTime             float64           `json:"total_time"`
	TranslationTime       float64           `json:"translation_time"`
	TranslationPercentage float64           `json:"translation_percentage"`
	Stages                map[Stage]float64 `json:"stages"`
	Chunks                int               `json:"chunks"`
	FailedChunks          int               `json:"failed_chunks"`
}
