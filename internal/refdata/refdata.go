// Package refdata serves the district/taluka/village hierarchy from the
// zone JSON file exported from the form.
package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

// Entry is one dropdown value of the zone file.
type Entry struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// TalukaEntry is a taluka with its villages.
type TalukaEntry struct {
	Entry
	Villages []Entry `json:"villages"`
}

// DistrictEntry is a district with its talukas.
type DistrictEntry struct {
	Entry
	Talukas []TalukaEntry `json:"talukas"`
}

// Document is the root of the zone file.
type Document struct {
	Districts []DistrictEntry `json:"districts"`
}

// Store is an immutable, in-memory scraper.ReferenceData.
type Store struct {
	districts []DistrictEntry
	index     map[string]int
}

// Load reads and parses the zone file at path.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference data: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a zone document.
func Parse(r io.Reader) (*Store, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode reference data: %w", err)
	}
	return New(doc)
}

// New indexes doc. District codes must be unique.
func New(doc Document) (*Store, error) {
	s := &Store{districts: doc.Districts, index: make(map[string]int, len(doc.Districts))}
	for i, d := range doc.Districts {
		if d.Value == "" {
			return nil, fmt.Errorf("district %d has no value", i)
		}
		if _, dup := s.index[d.Value]; dup {
			return nil, fmt.Errorf("duplicate district %q", d.Value)
		}
		s.index[d.Value] = i
	}
	return s, nil
}

// Districts lists every district in file order.
func (s *Store) Districts() []scraper.District {
	out := make([]scraper.District, 0, len(s.districts))
	for _, d := range s.districts {
		out = append(out, scraper.District{Code: d.Value, Name: d.Label})
	}
	return out
}

// District looks up one district by code.
func (s *Store) District(_ context.Context, code string) (scraper.District, error) {
	d, err := s.lookup(code)
	if err != nil {
		return scraper.District{}, err
	}
	return scraper.District{Code: d.Value, Name: d.Label}, nil
}

// ListTalukas returns the talukas of a district.
func (s *Store) ListTalukas(_ context.Context, districtCode string) ([]scraper.Taluka, error) {
	d, err := s.lookup(districtCode)
	if err != nil {
		return nil, err
	}
	out := make([]scraper.Taluka, 0, len(d.Talukas))
	for _, t := range d.Talukas {
		out = append(out, scraper.Taluka{Code: t.Value, Name: t.Label})
	}
	return out, nil
}

// ListVillages returns the villages of a taluka.
func (s *Store) ListVillages(_ context.Context, districtCode, talukaCode string) ([]scraper.Village, error) {
	d, err := s.lookup(districtCode)
	if err != nil {
		return nil, err
	}
	for _, t := range d.Talukas {
		if t.Value != talukaCode {
			continue
		}
		out := make([]scraper.Village, 0, len(t.Villages))
		for _, v := range t.Villages {
			out = append(out, scraper.Village{Code: v.Value, Name: v.Label})
		}
		return out, nil
	}
	return nil, fmt.Errorf("taluka %s/%s: %w", districtCode, talukaCode, scraper.ErrNotFound)
}

func (s *Store) lookup(code string) (DistrictEntry, error) {
	i, ok := s.index[code]
	if !ok {
		return DistrictEntry{}, fmt.Errorf("district %s: %w", code, scraper.ErrNotFound)
	}
	return s.districts[i], nil
}
