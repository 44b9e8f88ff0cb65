package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/types"
)

// PropertyDraft is the editable form state of a property. Collections grow
// and shrink independently; Reset returns to the last loaded record.
type PropertyDraft struct {
	current  models.Property
	baseline models.Property
}

// NewPropertyDraft returns an empty draft
func NewPropertyDraft() *PropertyDraft {
	d := &PropertyDraft{}
	d.Clear()
	return d
}

// LoadPropertyDraft starts a draft from a stored record
func LoadPropertyDraft(p *models.Property) *PropertyDraft {
	d := &PropertyDraft{baseline: cloneProperty(p)}
	d.current = cloneProperty(&d.baseline)
	return d
}

// Property returns a copy of the current form state
func (d *PropertyDraft) Property() models.Property {
	return cloneProperty(&d.current)
}

// Apply replaces the whole form state with in, keeping the record id
func (d *PropertyDraft) Apply(in *models.Property) {
	id := d.current.ID
	created := d.current.CreatedAt
	d.current = cloneProperty(in)
	d.current.ID = id
	d.current.CreatedAt = created
}

// Reset discards unsaved edits
func (d *PropertyDraft) Reset() {
	d.current = cloneProperty(&d.baseline)
}

// Clear empties the form; used after a successful create
func (d *PropertyDraft) Clear() {
	d.baseline = models.Property{Status: types.StatusLaunchpad}
	d.current = cloneProperty(&d.baseline)
}

// AddProgress appends a milestone
func (d *PropertyDraft) AddProgress(item models.ProgressItem) {
	d.current.Progress = append(d.current.Progress, item)
}

// RemoveProgress removes the milestone at index i
func (d *PropertyDraft) RemoveProgress(i int) error {
	if i < 0 || i >= len(d.current.Progress) {
		return indexError("progress", i, len(d.current.Progress))
	}
	d.current.Progress = append(d.current.Progress[:i:i], d.current.Progress[i+1:]...)
	return nil
}

// AddUpdate appends a news entry
func (d *PropertyDraft) AddUpdate(u models.Update) {
	d.current.Updates = append(d.current.Updates, u)
}

// RemoveUpdate removes the news entry at index i
func (d *PropertyDraft) RemoveUpdate(i int) error {
	if i < 0 || i >= len(d.current.Updates) {
		return indexError("updates", i, len(d.current.Updates))
	}
	d.current.Updates = append(d.current.Updates[:i:i], d.current.Updates[i+1:]...)
	return nil
}

// AddHighlight appends a highlight
func (d *PropertyDraft) AddHighlight(text string) {
	d.current.Highlights = append(d.current.Highlights, models.Highlight{Highlight: text})
}

// RemoveHighlight removes the highlight at index i
func (d *PropertyDraft) RemoveHighlight(i int) error {
	if i < 0 || i >= len(d.current.Highlights) {
		return indexError("highlights", i, len(d.current.Highlights))
	}
	d.current.Highlights = append(d.current.Highlights[:i:i], d.current.Highlights[i+1:]...)
	return nil
}

// Build trims the form, drops blank collection rows and validates the result
func (d *PropertyDraft) Build() (*models.Property, error) {
	p := cloneProperty(&d.current)
	p.Name = strings.TrimSpace(p.Name)
	p.Location = strings.TrimSpace(p.Location)
	p.Type = strings.TrimSpace(p.Type)
	p.Status = types.PropertyStatus(strings.ToLower(strings.TrimSpace(string(p.Status))))

	progress := p.Progress[:0]
	for _, item := range p.Progress {
		if strings.TrimSpace(item.Title) != "" || strings.TrimSpace(item.Description) != "" {
			progress = append(progress, item)
		}
	}
	p.Progress = progress

	updates := p.Updates[:0]
	for _, u := range p.Updates {
		if strings.TrimSpace(u.Title) != "" || strings.TrimSpace(u.Description) != "" {
			updates = append(updates, u)
		}
	}
	p.Updates = updates

	highlights := p.Highlights[:0]
	for _, h := range p.Highlights {
		if text := strings.TrimSpace(h.Highlight); text != "" {
			highlights = append(highlights, models.Highlight{Highlight: text})
		}
	}
	p.Highlights = highlights

	documents := p.Documents[:0]
	for _, doc := range p.Documents {
		if doc = strings.TrimSpace(doc); doc != "" {
			documents = append(documents, doc)
		}
	}
	p.Documents = documents

	if err := p.Validate(); err != nil {
		return nil, invalidInput("property", err.Error())
	}
	return &p, nil
}

// BuildNew is Build for a record that is not stored yet: the id is cleared
// and total shares start at the available shares.
func (d *PropertyDraft) BuildNew() (*models.Property, error) {
	d.current.ID = ""
	d.current.TotalShares = d.current.AvailableShares
	return d.Build()
}

func indexError(collection string, i, n int) error {
	return invalidInput(collection, fmt.Sprintf("index %d out of range for %d %s entries", i, n, collection))
}

// cloneProperty deep-copies the collections of p
func cloneProperty(p *models.Property) models.Property {
	out := *p
	out.Progress = append([]models.ProgressItem{}, p.Progress...)
	out.Updates = append([]models.Update{}, p.Updates...)
	out.Highlights = append([]models.Highlight{}, p.Highlights...)
	out.Documents = append([]string{}, p.Documents...)
	return out
}

// PropertyInput is the admin form payload. Collections and nested objects
// replace the stored ones entirely.
type PropertyInput struct {
	Name            string                 `json:"name"`
	Status          string                 `json:"status"`
	Price           json.Number            `json:"price"`
	AvailableShares json.Number            `json:"availableShares"`
	TotalShares     json.Number            `json:"totalShares"`
	Location        string                 `json:"location"`
	Type            string                 `json:"type"`
	Growth          string                 `json:"growth"`
	Description     string                 `json:"description"`
	Image           string                 `json:"image"`
	Progress        []models.ProgressItem  `json:"progress"`
	Updates         []models.Update        `json:"updates"`
	Highlights      []models.Highlight     `json:"highlights"`
	Documents       []string               `json:"documents"`
	Attributes      models.Attributes      `json:"attributes"`
	ValueParameters models.ValueParameters `json:"valueParameters"`
}

// ToProperty converts the payload, rejecting malformed numbers
func (in *PropertyInput) ToProperty() (*models.Property, error) {
	p := &models.Property{
		Name:            in.Name,
		Status:          types.PropertyStatus(in.Status),
		Location:        in.Location,
		Type:            in.Type,
		Growth:          in.Growth,
		Description:     in.Description,
		Image:           in.Image,
		Progress:        in.Progress,
		Updates:         in.Updates,
		Highlights:      in.Highlights,
		Documents:       in.Documents,
		Attributes:      in.Attributes,
		ValueParameters: in.ValueParameters,
	}

	var err error
	if p.Price, err = parseDecimalField("price", in.Price); err != nil {
		return nil, err
	}
	if p.AvailableShares, err = parseIntField("availableShares", in.AvailableShares); err != nil {
		return nil, err
	}
	if p.TotalShares, err = parseIntField("totalShares", in.TotalShares); err != nil {
		return nil, err
	}
	return p, nil
}
