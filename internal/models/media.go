package models

// Resource kinds a value can be appended to.
const (
	KindItem  = "items"
	KindMedia = "media"
)

// Value types.
const (
	ValueLiteral  = "literal"
	ValueResource = "resource"
)

// Item is a host resource grouping the media of one document.
type Item struct {
	ID         int     `firestore:"id" json:"o:id"`
	Identifier string  `firestore:"identifier,omitempty" json:"dcterms:identifier,omitempty"`
	Values     []Value `firestore:"values,omitempty" json:"values,omitempty"`
}

// Media is a single file attached to an item: the source pdf, its page
// images and the derived text layers.
type Media struct {
	ID         int     `firestore:"id" json:"o:id"`
	ItemID     int     `firestore:"itemId" json:"o:item"`
	Position   int     `firestore:"position" json:"o:position"`
	Source     string  `firestore:"source,omitempty" json:"o:source,omitempty"`
	StorageID  string  `firestore:"storageId,omitempty" json:"o:storage_id,omitempty"`
	Extension  string  `firestore:"extension,omitempty" json:"o:extension,omitempty"`
	MediaType  string  `firestore:"mediaType,omitempty" json:"o:media_type,omitempty"`
	Identifier string  `firestore:"identifier,omitempty" json:"dcterms:identifier,omitempty"`
	Width      int     `firestore:"width,omitempty" json:"width,omitempty"`
	Height     int     `firestore:"height,omitempty" json:"height,omitempty"`
	Values     []Value `firestore:"values,omitempty" json:"values,omitempty"`
}

// Filename is the name of the stored file, relative to the files directory.
func (m Media) Filename() string {
	if m.Extension == "" {
		return m.StorageID
	}
	return m.StorageID + "." + m.Extension
}

// Value is one metadata value of a resource.
type Value struct {
	Property   string `firestore:"property" json:"property"`
	Type       string `firestore:"type" json:"type"`
	Value      string `firestore:"value,omitempty" json:"@value,omitempty"`
	Lang       string `firestore:"lang,omitempty" json:"@language,omitempty"`
	ResourceID int    `firestore:"resourceId,omitempty" json:"value_resource_id,omitempty"`
}

// Same reports whether both values carry the same property and content. The
// language tag is not compared.
func (v Value) Same(other Value) bool {
	return v.Property == other.Property &&
		v.Type == other.Type &&
		v.Value == other.Value &&
		v.ResourceID == other.ResourceID
}

// ResourceRef points at the item or media a value is written to.
type ResourceRef struct {
	Kind string
	ID   int
}

// ItemRef returns a reference to an item.
func ItemRef(id int) ResourceRef { return ResourceRef{Kind: KindItem, ID: id} }

// MediaRef returns a reference to a media.
func MediaRef(id int) ResourceRef { return ResourceRef{Kind: KindMedia, ID: id} }
