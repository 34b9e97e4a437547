package mergelog

import "encoding/json"

// Application records one confirmed apply: the diff IDs handed to the apply
// collaborator for discarding.
type Application struct {
	ApplicationID    string `gorm:"column:application_id;primaryKey;size:64;not null"`
	Document         string `gorm:"column:document;size:190;not null;index"`
	DiscardedIDs     string `gorm:"column:discarded_ids;type:text;not null"`
	DiscardedCount   int    `gorm:"column:discarded_count;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null;index"`
}

// TableName exposes the table backing merge applications.
func (Application) TableName() string {
	return "merge_applications"
}

// Discarded decodes the stored diff IDs.
func (a Application) Discarded() ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(a.DiscardedIDs), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
