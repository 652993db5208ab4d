package analysis

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ProductRole string

const (
	RoleMain       ProductRole = "main"
	RoleCompetitor ProductRole = "competitor"
)

// DegradedNote annotates a main product that could only be partially collected.
const DegradedNote = "Product data limited due to anti-bot measures"

// Product is a scraped product snapshot as it travels between stages.
type Product struct {
	ASIN        string            `json:"asin"`
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Brand       string            `json:"brand,omitempty"`
	Price       *float64          `json:"price,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	Features    []string          `json:"features,omitempty"`
	Specs       map[string]string `json:"specs,omitempty"`
	Reviews     []string          `json:"reviews,omitempty"`
	Rating      *float64          `json:"rating,omitempty"`
	ReviewCount *int              `json:"review_count,omitempty"`
	Degraded    bool              `json:"degraded,omitempty"`
	Note        string            `json:"note,omitempty"`
	ScrapedAt   time.Time         `json:"scraped_at"`
}

// ProductRecord is the durable row for a product collected during a session.
// Rows are immutable once written.
type ProductRecord struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID     string         `gorm:"column:session_id;not null;index" json:"session_id"`
	Role          ProductRole    `gorm:"column:role;not null" json:"role"`
	Position      int            `gorm:"column:position;not null;default:0" json:"position"`
	ASIN          string         `gorm:"column:asin;not null;index" json:"asin"`
	URL           string         `gorm:"column:url;not null" json:"url"`
	Title         string         `gorm:"column:title;type:text" json:"title"`
	Brand         string         `gorm:"column:brand" json:"brand,omitempty"`
	Price         *float64       `gorm:"column:price" json:"price,omitempty"`
	Currency      string         `gorm:"column:currency" json:"currency,omitempty"`
	Description   string         `gorm:"column:description;type:text" json:"description,omitempty"`
	Category      string         `gorm:"column:category" json:"category,omitempty"`
	Features      datatypes.JSON `gorm:"column:features" json:"features,omitempty"`
	Specs         datatypes.JSON `gorm:"column:specs" json:"specs,omitempty"`
	Reviews       datatypes.JSON `gorm:"column:reviews" json:"reviews,omitempty"`
	Rating        *float64       `gorm:"column:rating" json:"rating,omitempty"`
	ReviewCount   *int           `gorm:"column:review_count" json:"review_count,omitempty"`
	Degraded      bool           `gorm:"column:degraded;not null;default:false" json:"degraded"`
	Note          string         `gorm:"column:note" json:"note,omitempty"`
	ScrapeSuccess bool           `gorm:"column:scrape_success;not null;default:true" json:"scrape_success"`
	ScrapedAt     time.Time      `gorm:"column:scraped_at;not null" json:"scraped_at"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (ProductRecord) TableName() string { return "product_record" }

// NewProductRecord flattens a snapshot into a row. Role is assigned on insert.
func NewProductRecord(sessionID string, p Product) *ProductRecord {
	return &ProductRecord{
		ID:            uuid.New(),
		SessionID:     sessionID,
		ASIN:          p.ASIN,
		URL:           p.URL,
		Title:         p.Title,
		Brand:         p.Brand,
		Price:         p.Price,
		Currency:      p.Currency,
		Description:   p.Description,
		Category:      p.Category,
		Features:      mustJSON(p.Features),
		Specs:         mustJSON(p.Specs),
		Reviews:       mustJSON(p.Reviews),
		Rating:        p.Rating,
		ReviewCount:   p.ReviewCount,
		Degraded:      p.Degraded,
		Note:          p.Note,
		ScrapeSuccess: true,
		ScrapedAt:     p.ScrapedAt.UTC(),
	}
}

// Product rebuilds the snapshot. Malformed JSON columns decode as empty.
func (r *ProductRecord) Product() Product {
	p := Product{
		ASIN:        r.ASIN,
		URL:         r.URL,
		Title:       r.Title,
		Brand:       r.Brand,
		Price:       r.Price,
		Currency:    r.Currency,
		Description: r.Description,
		Category:    r.Category,
		Rating:      r.Rating,
		ReviewCount: r.ReviewCount,
		Degraded:    r.Degraded,
		Note:        r.Note,
		ScrapedAt:   r.ScrapedAt,
	}
	_ = decodeJSON(r.Features, &p.Features)
	_ = decodeJSON(r.Specs, &p.Specs)
	_ = decodeJSON(r.Reviews, &p.Reviews)
	return p
}

func mustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}

func decodeJSON(raw datatypes.JSON, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
