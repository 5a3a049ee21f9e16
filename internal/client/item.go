package client

import "maps"

// IDField is the identity field of every stored record.
const IDField = "_id"

// Item is one record. Maps are shared by reference, so changes made after
// BeginChange are seen by Persist.
type Item map[string]any

func (i Item) ID() string {
	id, _ := i[IDField].(string)
	return id
}

// Set assigns every field of fields onto the item.
func (i Item) Set(fields map[string]any) {
	maps.Copy(i, fields)
}
