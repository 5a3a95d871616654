package database

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"therapyline/pkg/interfaces"
	"therapyline/pkg/logger"
	"therapyline/pkg/types"
)

// Seed is the YAML document loaded into the directory at startup.
//
//	users:
//	  - id: parent1
//	    role: parent
//	    name: Sam
//	    children: [child1]
type Seed struct {
	Users []SeedUser `yaml:"users"`
}

// SeedUser is a directory user plus the children it is guardian of.
type SeedUser struct {
	types.User `yaml:",inline"`
	Children   []string `yaml:"children"`
}

// LoadSeedFile parses a directory seed file.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// ApplySeed upserts every user, then creates guardian links, so a parent may
// list children defined later in the file.
func ApplySeed(ctx context.Context, dir interfaces.Directory, seed *Seed, log *logger.Logger) error {
	for i := range seed.Users {
		if err := dir.UpsertUser(ctx, &seed.Users[i].User); err != nil {
			return err
		}
	}

	links := 0
	for _, u := range seed.Users {
		for _, childID := range u.Children {
			if err := dir.LinkChild(ctx, u.ID, childID); err != nil {
				return err
			}
			links++
		}
	}

	log.Info("Directory seeded",
		logger.Int("users", len(seed.Users)),
		logger.Int("guardian_links", links))
	return nil
}
