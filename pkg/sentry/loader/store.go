// Copyright 2019 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrNotFound is returned for names that have no image.
var ErrNotFound = errors.New("no such image")

// Store is a set of named images. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	images map[string]*Image
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{images: make(map[string]*Image)}
}

// Add validates img and makes it available under img.Name, replacing any
// earlier image of that name.
func (s *Store) Add(img *Image) error {
	if img.Name == "" {
		return fmt.Errorf("image has no name")
	}
	if err := img.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[img.Name] = img
	return nil
}

// Image returns the image called name.
func (s *Store) Image(name string) (*Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return img, nil
}

// Names returns the image names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.images))
	for n := range s.images {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadFile parses the ELF executable at path and adds it to the store
// under its base name.
func (s *Store) LoadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := ParseELF(filepath.Base(path), f)
	if err != nil {
		return nil, err
	}
	if err := s.Add(img); err != nil {
		return nil, err
	}
	return img, nil
}
