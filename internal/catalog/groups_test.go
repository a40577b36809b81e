package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/quote-configurator/internal/catalog"
)

func TestParseDefinitions(t *testing.T) {
	defs, err := catalog.LoadDefinitions("testdata/groups.yaml")
	require.NoError(t, err)
	require.Len(t, defs.Groups, 2)
	require.Equal(t, []string{"Fixed Window", "Door Panel", "Skylight"}, defs.SimpleTypes)

	sliding := defs.Groups[0]
	require.Equal(t, "sliding", sliding.ID)
	require.Len(t, sliding.Steps, 2)
	require.Equal(t, "frame", sliding.Steps[0].Key)
	require.Equal(t, "Sliding 2H 3L", sliding.ResolveMap["2h|3"])
	require.True(t, sliding.HasStep("leaves"))
	require.False(t, sliding.HasStep("color"))
}

func TestParseDefinitionsRejectsInvalidData(t *testing.T) {
	cases := map[string]string{
		"duplicate resolve key": `
groups:
  - id: g
    steps: [{key: a}]
    resolveMap:
      "x": One
      "x": Two
`,
		"key part count": `
groups:
  - id: g
    steps: [{key: a}, {key: b}]
    resolveMap:
      "x": One
`,
		"duplicate group": `
groups:
  - id: g
    steps: [{key: a}]
  - id: g
    steps: [{key: a}]
`,
		"no steps": `
groups:
  - id: g
`,
		"separator in value": `
groups:
  - id: g
    steps:
      - key: a
        options: [{value: "x|y", label: X}]
`,
		"unknown field": `
groups:
  - id: g
    stepz: []
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := catalog.ParseDefinitions([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadDefinitionsRequiresPath(t *testing.T) {
	_, err := catalog.LoadDefinitions(" ")
	require.Error(t, err)
}

func TestShippedDefinitionsParse(t *testing.T) {
	defs, err := catalog.LoadDefinitions("../../configs/catalog_groups.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, defs.Groups)
	require.Contains(t, defs.SimpleTypes, "Fixed Window")
}
