package safe

import (
	"time"

	"github.com/marmos91/dittosafe/pkg/config"
	"github.com/marmos91/dittosafe/pkg/errs"
)

// CreateOptions controls Create.
type CreateOptions struct {
	// Wipe destroys an existing container at the location first
	Wipe bool `json:"wipe"`

	// Description is stored in the manifest
	Description string `json:"description" validate:"max=1024"`
}

// OpenOptions controls Open.
type OpenOptions struct {
	// ForceSync rebuilds the local index from the container
	ForceSync bool `json:"forceSync"`
}

// Sort orders for ListOptions.OrderBy.
const (
	OrderByName    = "name"
	OrderByModTime = "modTime"
	OrderBySize    = "size"
)

// ListOptions filters and orders ListFiles results. Zero values disable
// the corresponding filter.
type ListOptions struct {
	// Recursive includes files in subdirectories
	Recursive bool `json:"recursive"`

	// Prefix and Suffix match the file's base name
	Prefix string `json:"prefix"`
	Suffix string `json:"suffix"`

	// ContentType matches exactly, or by type when it ends in "/" ("image/")
	ContentType string `json:"contentType"`

	// Tags must all be present on the file
	Tags []string `json:"tags"`

	// After and Before bound the file's modification time (exclusive)
	After  time.Time `json:"after"`
	Before time.Time `json:"before"`

	// Offset skips entries; Limit caps them (0 = unlimited)
	Offset int `json:"offset" validate:"gte=0"`
	Limit  int `json:"limit" validate:"gte=0"`

	// OrderBy is name (default), modTime or size
	OrderBy string `json:"orderBy" validate:"omitempty,oneof=name modTime size"`

	// Reverse inverts the order
	Reverse bool `json:"reverse"`
}

// ListDirsOptions controls ListDirs.
type ListDirsOptions struct {
	// Depth is the number of levels returned (default 1: direct children)
	Depth int `json:"depth" validate:"gte=0,lte=64"`

	// ErrorIfNotExist fails with NotFound when the directory is empty
	ErrorIfNotExist bool `json:"errorIfNotExist"`
}

// PutOptions controls PutBytes, PutFile and PutFiles.
type PutOptions struct {
	// Overwrite replaces an existing file
	Overwrite bool `json:"overwrite"`

	// Zip compresses the content before encryption
	Zip bool `json:"zip"`

	// ContentType overrides detection
	ContentType string `json:"contentType" validate:"max=255"`

	// Tags and Meta are stored in the header
	Tags []string          `json:"tags" validate:"max=64,dive,max=128"`
	Meta map[string]string `json:"meta" validate:"max=64"`
}

// PatchOptions controls Patch. A nil Tags or Meta keeps the current value;
// an empty one clears it.
type PatchOptions struct {
	ContentType string            `json:"contentType" validate:"max=255"`
	Tags        []string          `json:"tags" validate:"max=64,dive,max=128"`
	Meta        map[string]string `json:"meta" validate:"max=64"`
}

// GetOptions controls GetBytes and GetFile.
type GetOptions struct {
	// FileID reads a specific version instead of the current one
	FileID string `json:"fileId" validate:"omitempty,uuid"`
}

// SetUsersOptions controls SetUsers.
type SetUsersOptions struct {
	// Replace removes users not listed (except the creator)
	Replace bool `json:"replace"`
}

// SyncOptions controls Sync.
type SyncOptions struct {
	// Full discards the local index and reads every header again
	Full bool `json:"full"`
}

func validate(opts any) error {
	if err := config.Struct(opts); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, err, "", "invalid options")
	}
	return nil
}
