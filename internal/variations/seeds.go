package variations

import (
	_ "embed"
	"fmt"
	"math/rand"

	"gopkg.in/yaml.v3"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

//go:embed seeds.yaml
var defaultSeeds []byte

// Catalog holds the creative directions that variation seeds are drawn from
type Catalog struct {
	ShuffleSeed   int64    `yaml:"shuffle_seed"`
	HookStyles    []string `yaml:"hook_styles"`
	MusicMoods    []string `yaml:"music_moods"`
	CTATypes      []string `yaml:"cta_types"`
	ContentAngles []string `yaml:"content_angles"`
}

// DefaultCatalog returns the embedded catalog
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultSeeds)
}

// ParseCatalog decodes a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse seed catalog: %w", err)
	}
	if len(c.HookStyles) == 0 || len(c.MusicMoods) == 0 || len(c.CTATypes) == 0 || len(c.ContentAngles) == 0 {
		return nil, fmt.Errorf("seed catalog needs at least one entry in every list")
	}
	return &c, nil
}

// Size is the number of distinct seeds the catalog can produce
func (c *Catalog) Size() int {
	return len(c.HookStyles) * len(c.MusicMoods) * len(c.CTATypes) * len(c.ContentAngles)
}

// Seeds returns n distinct seeds in a fixed, shuffled order. n is capped at Size.
func (c *Catalog) Seeds(n int) []types.CreativeSeed {
	total := c.Size()
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil
	}

	order := rand.New(rand.NewSource(c.ShuffleSeed)).Perm(total)
	seeds := make([]types.CreativeSeed, n)
	for i := 0; i < n; i++ {
		seeds[i] = c.at(order[i])
	}
	return seeds
}

// at decodes a combination index in mixed radix
func (c *Catalog) at(k int) types.CreativeSeed {
	h := k % len(c.HookStyles)
	k /= len(c.HookStyles)
	m := k % len(c.MusicMoods)
	k /= len(c.MusicMoods)
	cta := k % len(c.CTATypes)
	k /= len(c.CTATypes)
	a := k % len(c.ContentAngles)
	return types.CreativeSeed{
		HookStyle:    c.HookStyles[h],
		MusicMood:    c.MusicMoods[m],
		CTAType:      c.CTATypes[cta],
		ContentAngle: c.ContentAngles[a],
	}
}
