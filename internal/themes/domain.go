package themes

import "time"

// Theme is an installed storefront theme record. Theme assets live with the
// storefront; the console only tracks the catalog entry.
type Theme struct {
	ID        int64
	Name      string
	Author    string
	Version   string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActionDelete is the gated action name for removing a theme.
const ActionDelete = "theme.delete"
