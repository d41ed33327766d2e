package device

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"howett.net/plist"
)

// ImageDescriptor is one entry of the device's mounted image list.
type ImageDescriptor map[string]any

const developerMarker = "Developer"

// IsDeveloper reports whether the descriptor names a developer disk image.
// The XML rendering is searched so the marker is found in any key or value.
func (d ImageDescriptor) IsDeveloper() bool {
	data, err := plist.Marshal(map[string]any(d), plist.XMLFormat)
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte(developerMarker))
}

// HasDeveloperImage reports whether any descriptor is a developer image.
func HasDeveloperImage(images []ImageDescriptor) bool {
	for _, image := range images {
		if image.IsDeveloper() {
			return true
		}
	}
	return false
}

// ParseImageList decodes a plist array of image descriptors.
func ParseImageList(data []byte) ([]ImageDescriptor, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var raw []map[string]any
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode image list: %w", err)
	}
	images := make([]ImageDescriptor, 0, len(raw))
	for _, entry := range raw {
		images = append(images, ImageDescriptor(entry))
	}
	return images, nil
}

// Disk image file names inside the DDI directory.
const (
	ImageFile      = "Image.dmg"
	TrustCacheFile = "Image.dmg.trustcache"
	ManifestFile   = "BuildManifest.plist"
)

// DiskImage is the personalized developer disk image bundle.
type DiskImage struct {
	Image      []byte
	TrustCache []byte
	Manifest   []byte
	// Dir is the directory the bundle was loaded from, when known.
	Dir string
}

// LoadDiskImage reads the three bundle files from dir.
func LoadDiskImage(dir string) (DiskImage, error) {
	read := func(name string) ([]byte, error) {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("read %s: file is empty", name)
		}
		return data, nil
	}
	image, err := read(ImageFile)
	if err != nil {
		return DiskImage{}, err
	}
	trustCache, err := read(TrustCacheFile)
	if err != nil {
		return DiskImage{}, err
	}
	manifest, err := read(ManifestFile)
	if err != nil {
		return DiskImage{}, err
	}
	return DiskImage{Image: image, TrustCache: trustCache, Manifest: manifest, Dir: dir}, nil
}
