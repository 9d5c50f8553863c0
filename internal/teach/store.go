package teach

import (
	"encoding/xml"
	"fmt"
	"os"
	"sync"

	"github.com/wafer-pendant/backend/internal/models"
)

// TeachXML represents the raw XML structure of the teaching data file.
type TeachXML struct {
	XMLName xml.Name       `xml:"TeachingData"`
	Version string         `xml:"version,attr"`
	Groups  []GroupElement `xml:"Group"`
}

type GroupElement struct {
	Name   string         `xml:"name,attr"`
	Points []PointElement `xml:"Point"`
}

type PointElement struct {
	Name  string  `xml:"name,attr"`
	R     float64 `xml:"r,attr"`
	Theta float64 `xml:"theta,attr"`
	Z     float64 `xml:"z,attr"`
}

// Store implements Resolver over an XML teaching data file. The file is
// loaded lazily on first resolve and can be reloaded after the pendant
// writes new coordinates.
type Store struct {
	mu     sync.RWMutex
	path   string
	loaded bool
	groups map[string]map[string]models.Position
}

// NewStore creates a store for the given teaching data file.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		groups: make(map[string]map[string]models.Position),
	}
}

// Load reads and parses the teaching data file.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading teaching data: %w", err)
	}

	var raw TeachXML
	if err := xml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing teaching data: %w", err)
	}

	groups := make(map[string]map[string]models.Position)
	total := 0
	for _, g := range raw.Groups {
		points := make(map[string]models.Position)
		for _, p := range g.Points {
			points[p.Name] = models.Position{R: p.R, Theta: p.Theta, Z: p.Z}
			total++
		}
		groups[g.Name] = points
	}

	s.mu.Lock()
	s.groups = groups
	s.loaded = true
	s.mu.Unlock()

	fmt.Printf("[Teach] loaded %d points in %d groups from %s\n", total, len(groups), s.path)
	return nil
}

// ensureLoaded loads the file on first use.
func (s *Store) ensureLoaded() error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	return s.Load()
}

// Resolve returns the taught position for group/point.
func (s *Store) Resolve(group, point string) (models.Position, error) {
	if err := s.ensureLoaded(); err != nil {
		return models.Position{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	points, ok := s.groups[group]
	if !ok {
		return models.Position{}, fmt.Errorf("teach group not found: %s", group)
	}
	pos, ok := points[point]
	if !ok {
		return models.Position{}, fmt.Errorf("teach point not found: %s/%s", group, point)
	}
	return pos, nil
}

// All returns a copy of every taught position keyed by group then point.
func (s *Store) All() (map[string]map[string]models.Position, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]models.Position, len(s.groups))
	for g, points := range s.groups {
		cp := make(map[string]models.Position, len(points))
		for name, pos := range points {
			cp[name] = pos
		}
		out[g] = cp
	}
	return out, nil
}

// EnsureDefault writes a starter teaching data file if none exists, so
// a fresh install has something to run against.
func EnsureDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	starter := TeachXML{
		Version: "1.0",
		Groups: []GroupElement{
			{
				Name: "LoadPortA",
				Points: []PointElement{
					{Name: "Slot1", R: 210.0, Theta: 30.0, Z: 18.0},
					{Name: "Slot2", R: 210.0, Theta: 30.0, Z: 26.0},
				},
			},
			{
				Name: "Aligner",
				Points: []PointElement{
					{Name: "Center", R: 150.0, Theta: -45.0, Z: 30.0},
				},
			},
			{
				Name: "ProcessChamber",
				Points: []PointElement{
					{Name: "Stage", R: 260.0, Theta: 110.0, Z: 42.0},
				},
			},
		},
	}

	data, err := xml.MarshalIndent(starter, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling default teaching data: %w", err)
	}

	content := append([]byte(xml.Header), data...)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("writing default teaching data: %w", err)
	}

	fmt.Printf("[Teach] created default teaching data at %s\n", path)
	return nil
}

var _ Resolver = (*Store)(nil)
