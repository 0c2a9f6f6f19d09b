package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
	"visualizer.worker/internal/core/domain"
)

const (
	MB int64 = 1000 * 1000
	GB int64 = 1000 * MB
)

// Catalog maps a deployment profile (an image precision or a whisper model size)
// to the assets it needs.
type Catalog struct {
	profiles map[string][]domain.AssetDescriptor
}

type catalogFile struct {
	Profiles map[string][]domain.AssetDescriptor `yaml:"profiles"`
}

var (
	clipL = domain.AssetDescriptor{
		Name:      "clip_l.safetensors",
		Category:  "clip",
		RemoteURL: "https://huggingface.co/comfyanonymous/flux_text_encoders/resolve/main/clip_l.safetensors",
		MinBytes:  200 * MB,
	}
	autoEncoder = domain.AssetDescriptor{
		Name:         "ae.safetensors",
		Category:     "vae",
		RemoteURL:    "https://huggingface.co/black-forest-labs/FLUX.1-Kontext-dev/resolve/main/ae.safetensors",
		RequiresAuth: true,
		MinBytes:     300 * MB,
	}
)

var builtinProfiles = map[string][]domain.AssetDescriptor{
	"fp8": {
		{
			Name:      "flux1-dev-kontext_fp8_scaled.safetensors",
			Category:  "unet",
			RemoteURL: "https://huggingface.co/Comfy-Org/flux1-kontext-dev_ComfyUI/resolve/main/split_files/diffusion_models/flux1-dev-kontext_fp8_scaled.safetensors",
			MinBytes:  11 * GB,
		},
		clipL,
		{
			Name:      "t5xxl_fp8_e4m3fn_scaled.safetensors",
			Category:  "clip",
			RemoteURL: "https://huggingface.co/comfyanonymous/flux_text_encoders/resolve/main/t5xxl_fp8_e4m3fn_scaled.safetensors",
			MinBytes:  4500 * MB,
		},
		autoEncoder,
	},
	"fp16": {
		{
			Name:         "flux1-kontext-dev.safetensors",
			Category:     "unet",
			RemoteURL:    "https://huggingface.co/black-forest-labs/FLUX.1-Kontext-dev/resolve/main/flux1-kontext-dev.safetensors",
			RequiresAuth: true,
			MinBytes:     22 * GB,
		},
		clipL,
		{
			Name:      "t5xxl_fp16.safetensors",
			Category:  "clip",
			RemoteURL: "https://huggingface.co/comfyanonymous/flux_text_encoders/resolve/main/t5xxl_fp16.safetensors",
			MinBytes:  9 * GB,
		},
		autoEncoder,
	},
	"whisper-tiny":     {whisperModel("tiny", 70*MB)},
	"whisper-base":     {whisperModel("base", 130*MB)},
	"whisper-small":    {whisperModel("small", 440*MB)},
	"whisper-medium":   {whisperModel("medium", 1400*MB)},
	"whisper-large-v3": {whisperModel("large-v3", 2800*MB)},
}

func whisperModel(size string, minBytes int64) domain.AssetDescriptor {
	file := "ggml-" + size + ".bin"
	return domain.AssetDescriptor{
		Name:      file,
		Category:  "whisper",
		RemoteURL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/" + file,
		MinBytes:  minBytes,
	}
}

// DefaultCatalog returns the built-in profiles rooted at modelsDir.
func DefaultCatalog(modelsDir string) *Catalog {
	return newCatalog(builtinProfiles, modelsDir)
}

// LoadCatalogFile reads profiles from a YAML file. Profiles it names replace the
// built-in ones; the rest stay available.
func LoadCatalogFile(path, modelsDir string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	merged := make(map[string][]domain.AssetDescriptor, len(builtinProfiles)+len(file.Profiles))
	for name, assets := range builtinProfiles {
		merged[name] = assets
	}
	for name, assets := range file.Profiles {
		for _, a := range assets {
			if a.Name == "" || (a.RemoteURL == "" && a.LocalPath == "") {
				return nil, fmt.Errorf("catalog %s: profile %s: asset needs name and remote_url", path, name)
			}
		}
		merged[name] = assets
	}
	return newCatalog(merged, modelsDir), nil
}

func newCatalog(profiles map[string][]domain.AssetDescriptor, modelsDir string) *Catalog {
	c := &Catalog{profiles: make(map[string][]domain.AssetDescriptor, len(profiles))}
	for name, assets := range profiles {
		resolved := make([]domain.AssetDescriptor, len(assets))
		for i, a := range assets {
			switch {
			case a.LocalPath == "":
				a.LocalPath = filepath.Join(modelsDir, a.Category, a.Name)
			case !filepath.IsAbs(a.LocalPath):
				a.LocalPath = filepath.Join(modelsDir, a.LocalPath)
			}
			resolved[i] = a
		}
		c.profiles[name] = resolved
	}
	return c
}

// Profile returns a copy of the descriptors of the named profile.
func (c *Catalog) Profile(name string) ([]domain.AssetDescriptor, error) {
	assets, ok := c.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown asset profile %q", domain.ErrInvalidInput, name)
	}
	out := make([]domain.AssetDescriptor, len(assets))
	copy(out, assets)
	return out, nil
}

func (c *Catalog) Profiles() []string {
	names := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
