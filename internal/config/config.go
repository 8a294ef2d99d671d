// Package config holds the module settings of the extraction jobs. Settings
// are read once per run and passed down explicitly.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TargetFormat is the kind of text layer produced from a pdf.
type TargetFormat int

const (
	FormatAlto TargetFormat = iota + 1
	FormatPdf2xml
	FormatTsv
)

// Media types of the produced files.
const (
	MediaTypeAlto    = "application/alto+xml"
	MediaTypePdf2xml = "application/vnd.pdf2xml+xml"
	MediaTypeTsv     = "text/tab-separated-values"
)

// ParseFormat accepts a short name ("alto", "pdf2xml", "tsv") or a media type.
func ParseFormat(s string) (TargetFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "alto", MediaTypeAlto:
		return FormatAlto, nil
	case "pdf2xml", MediaTypePdf2xml:
		return FormatPdf2xml, nil
	case "tsv", MediaTypeTsv:
		return FormatTsv, nil
	}
	return 0, fmt.Errorf("unknown target format %q", s)
}

// Extension is the file extension of the produced file.
func (f TargetFormat) Extension() string {
	switch f {
	case FormatAlto, FormatPdf2xml:
		return "xml"
	case FormatTsv:
		return "tsv"
	}
	panic(fmt.Sprintf("config: invalid target format %d", int(f)))
}

// MediaType is the media type stamped on the produced media.
func (f TargetFormat) MediaType() string {
	switch f {
	case FormatAlto:
		return MediaTypeAlto
	case FormatPdf2xml:
		return MediaTypePdf2xml
	case FormatTsv:
		return MediaTypeTsv
	}
	panic(fmt.Sprintf("config: invalid target format %d", int(f)))
}

func (f TargetFormat) String() string {
	switch f {
	case FormatAlto:
		return "alto"
	case FormatPdf2xml:
		return "pdf2xml"
	case FormatTsv:
		return "tsv"
	}
	return fmt.Sprintf("TargetFormat(%d)", int(f))
}

// ContentStore is the set of resources receiving the extracted text.
type ContentStore uint8

const (
	StoreItem ContentStore = 1 << iota
	StorePdfMedia
	StoreArtifactMedia
)

// Has reports whether every flag of other is set.
func (c ContentStore) Has(other ContentStore) bool {
	return c&other == other && other != 0
}

// ParseContentStore reads the list of destinations ("item", "media_pdf",
// "media_extracted").
func ParseContentStore(names []string) (ContentStore, error) {
	var c ContentStore
	for _, name := range names {
		switch strings.TrimSpace(name) {
		case "":
		case "item":
			c |= StoreItem
		case "media_pdf":
			c |= StorePdfMedia
		case "media_extracted", "media":
			c |= StoreArtifactMedia
		default:
			return 0, fmt.Errorf("unknown content store %q", name)
		}
	}
	return c, nil
}

// Settings is the configuration of one extraction run.
type Settings struct {
	Format          TargetFormat
	CreateMedia     bool
	CreateEmptyFile bool
	ContentStore    ContentStore
	ContentProperty string
	ContentLanguage string
	LinkSource      bool
	ItemIDs         string
	FilesPath       string
	FilesURI        string
	StagingDir      string
	StagingBucket   string
	StagingURL      string
	IndexDir        string
	ItemURLTemplate string
	IiifURL         string
	ToolTimeout     time.Duration
}

// fileSettings mirrors Settings with the raw values viper can decode.
type fileSettings struct {
	Format          string        `mapstructure:"format"`
	CreateMedia     bool          `mapstructure:"create_media"`
	CreateEmptyFile bool          `mapstructure:"create_empty_file"`
	ContentStore    []string      `mapstructure:"content_store"`
	ContentProperty string        `mapstructure:"content_property"`
	ContentLanguage string        `mapstructure:"content_language"`
	LinkSource      bool          `mapstructure:"link_source"`
	ItemIDs         string        `mapstructure:"item_ids"`
	FilesPath       string        `mapstructure:"files_path"`
	FilesURI        string        `mapstructure:"files_uri"`
	StagingDir      string        `mapstructure:"staging_dir"`
	StagingBucket   string        `mapstructure:"staging_bucket"`
	StagingURL      string        `mapstructure:"staging_url"`
	IndexDir        string        `mapstructure:"index_dir"`
	ItemURLTemplate string        `mapstructure:"item_url_template"`
	IiifURL         string        `mapstructure:"iiif_url"`
	ToolTimeout     time.Duration `mapstructure:"tool_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("format", "alto")
	v.SetDefault("create_media", true)
	v.SetDefault("create_empty_file", false)
	v.SetDefault("content_store", []string{})
	v.SetDefault("content_property", "bibo:content")
	v.SetDefault("content_language", "")
	v.SetDefault("link_source", true)
	v.SetDefault("item_ids", "")
	v.SetDefault("files_path", "/var/www/html/files/original")
	v.SetDefault("files_uri", "")
	v.SetDefault("staging_dir", "/var/www/html/files/temp")
	v.SetDefault("staging_bucket", "")
	v.SetDefault("staging_url", "")
	v.SetDefault("index_dir", "/var/www/html/files/iiif-search")
	v.SetDefault("item_url_template", "")
	v.SetDefault("iiif_url", "")
	v.SetDefault("tool_timeout", time.Duration(0))
}

// Load reads the settings from the environment (prefix EXTRACTOCR_) and from
// the YAML file named by configFile, if any. Environment values win.
func Load(configFile string) (Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EXTRACTOCR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read settings file %s: %w", configFile, err)
		}
	}

	var raw fileSettings
	if err := v.Unmarshal(&raw); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return raw.settings()
}

func (raw fileSettings) settings() (Settings, error) {
	format, err := ParseFormat(raw.Format)
	if err != nil {
		return Settings{}, err
	}
	store, err := ParseContentStore(raw.ContentStore)
	if err != nil {
		return Settings{}, err
	}
	if store != 0 && raw.ContentProperty == "" {
		return Settings{}, fmt.Errorf("content_property must be set when content_store is used")
	}
	return Settings{
		Format:          format,
		CreateMedia:     raw.CreateMedia,
		CreateEmptyFile: raw.CreateEmptyFile,
		ContentStore:    store,
		ContentProperty: raw.ContentProperty,
		ContentLanguage: raw.ContentLanguage,
		LinkSource:      raw.LinkSource,
		ItemIDs:         raw.ItemIDs,
		FilesPath:       strings.TrimRight(raw.FilesPath, "/"),
		FilesURI:        strings.TrimRight(raw.FilesURI, "/"),
		StagingDir:      raw.StagingDir,
		StagingBucket:   raw.StagingBucket,
		StagingURL:      strings.TrimRight(raw.StagingURL, "/"),
		IndexDir:        raw.IndexDir,
		ItemURLTemplate: raw.ItemURLTemplate,
		IiifURL:         strings.TrimRight(raw.IiifURL, "/"),
		ToolTimeout:     raw.ToolTimeout,
	}, nil
}

// ItemURL returns the public url of an item, or "" when no template is set.
// The template holds "{id}" where the item id goes.
func (s Settings) ItemURL(itemID int) string {
	if s.ItemURLTemplate == "" {
		return ""
	}
	return strings.ReplaceAll(s.ItemURLTemplate, "{id}", fmt.Sprint(itemID))
}

// FileURL returns the public url of a stored file, or "" when unknown.
func (s Settings) FileURL(filename string) string {
	if s.FilesURI == "" {
		return ""
	}
	return s.FilesURI + "/" + filename
}
