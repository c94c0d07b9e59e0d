package va

import "go.uber.org/zap"

// LibVAOptions configures the libva binding.
type LibVAOptions struct {
	// LibraryPath overrides the libva.so.2 location.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// DRMLibraryPath overrides the libva-drm.so.2 location.
	DRMLibraryPath string `json:"drm_library_path" yaml:"drm_library_path"`
	// RenderNode is the DRM render node displays are opened on.
	RenderNode string `json:"render_node" yaml:"render_node"`

	Logger *zap.SugaredLogger `json:"-" yaml:"-"`
}

// DefaultLibVAOptions returns the options used when none are given.
func DefaultLibVAOptions() LibVAOptions {
	return LibVAOptions{
		RenderNode: "/dev/dri/renderD128",
	}
}
