package models

// Item is a catalog entry as configured.
type Item struct {
	ID        int64  `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	OwnerID   int64  `yaml:"owner_id" json:"ownerId"`
	Available bool   `yaml:"available" json:"available"`
}

// ItemRef is what the booking engine needs to know about an item.
type ItemRef struct {
	ID        int64
	Name      string
	OwnerID   int64
	Available bool
}

func (i Item) Ref() ItemRef {
	return ItemRef{ID: i.ID, Name: i.Name, OwnerID: i.OwnerID, Available: i.Available}
}
