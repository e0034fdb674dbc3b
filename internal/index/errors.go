package index

import "errors"

var (
	// ErrInvalidFolder indicates the folder path is missing, not a directory,
	// or escapes the allowed roots.
	ErrInvalidFolder = errors.New("invalid folder")
	// ErrNoImagesFound indicates a build scan found no supported image files
	// in a folder that has never been indexed.
	ErrNoImagesFound = errors.New("no images found in folder")
	// ErrNotIndexed indicates no persisted index exists for the folder.
	ErrNotIndexed = errors.New("folder not indexed")
	// ErrCorruptIndex indicates the persisted vector and catalog files
	// disagree about how many images are indexed.
	ErrCorruptIndex = errors.New("corrupt index")
)
