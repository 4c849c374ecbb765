// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package vmdef

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default guest resources.
const (
	DefaultMemory     = 256
	DefaultCPUs       = 2
	DefaultInitSystem = "/bin/sh"
)

// Image is a bootable root file system image.
type Image struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	Init string `yaml:"init,omitempty"`
}

// Config is the host configuration shared by all VMs.
type Config struct {
	Images []Image `yaml:"images"`
	Kernel string  `yaml:"kernel"`
	Memory uint64  `yaml:"guest_memory,omitempty"`
	CPUs   uint64  `yaml:"guest_cpus,omitempty"`
	NoKVM  bool    `yaml:"no_kvm,omitempty"`

	images map[string]Image
}

// ImageName normalizes an image name. Names are case insensitive and spaces
// are equal to dashes.
func ImageName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// LoadConfig reads and parses a host configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return ParseConfig(data, filepath.Dir(path))
}

// ParseConfig parses a host configuration. Relative paths are resolved
// relative to baseDir. Missing values are set to their defaults.
func ParseConfig(data []byte, baseDir string) (*Config, error) {
	var cfg Config

	err := yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Kernel == "" {
		return nil, fmt.Errorf("%w: kernel", ErrMissingField)
	}

	cfg.Kernel = resolve(baseDir, cfg.Kernel)

	if cfg.Memory == 0 {
		cfg.Memory = DefaultMemory
	}

	if cfg.CPUs == 0 {
		cfg.CPUs = DefaultCPUs
	}

	cfg.images = make(map[string]Image, len(cfg.Images))

	for idx, image := range cfg.Images {
		if image.Name == "" || image.Path == "" {
			return nil, fmt.Errorf("%w: image %d: name and path", ErrMissingField, idx)
		}

		image.Name = ImageName(image.Name)
		image.Path = resolve(baseDir, image.Path)

		if image.Init == "" {
			image.Init = DefaultInitSystem
		}

		if _, exists := cfg.images[image.Name]; exists {
			return nil, fmt.Errorf("%w: image %s", ErrDuplicate, image.Name)
		}

		cfg.images[image.Name] = image
		cfg.Images[idx] = image
	}

	return &cfg, nil
}

// Image returns the image with the given name. The name is normalized with
// [ImageName].
func (c *Config) Image(name string) (Image, error) {
	image, exists := c.images[ImageName(name)]
	if !exists {
		return Image{}, fmt.Errorf("%w: %s", ErrUnknownImage, name)
	}

	return image, nil
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(baseDir, path)
}
