package directory

import (
	"encoding/json"
	"fmt"
	"os"

	id "entitle/pkg/domain"
)

// seedFile is the JSON shape a development deployment loads user and catalog
// data from when no live directory is configured.
type seedFile struct {
	Users      []userPayload `json:"users"`
	Systems    []namedEntry  `json:"systems"`
	Subsystems []namedEntry  `json:"subsystems"`
	Roles      []namedEntry  `json:"roles"`
}

type namedEntry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NewFromFile builds a StaticDirectory from a JSON seed file.
func NewFromFile(path string) (*StaticDirectory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory seed: %w", err)
	}
	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse directory seed %s: %w", path, err)
	}

	dir := NewStatic()
	for _, u := range seed.Users {
		dir.PutUser(u.profile())
	}
	for _, s := range seed.Systems {
		dir.PutSystem(id.SystemID(s.ID), s.Name)
	}
	for _, s := range seed.Subsystems {
		dir.PutSubsystem(id.SubsystemID(s.ID), s.Name)
	}
	for _, r := range seed.Roles {
		dir.PutRole(id.RoleID(r.ID), r.Name)
	}
	return dir, nil
}
