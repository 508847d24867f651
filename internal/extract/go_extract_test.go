package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

const goSample = `package sample

import "fmt"

type Greeter struct {
	Name string
}

func (g *Greeter) Greet() string {
	return fmt.Sprintf("hello %s", g.Name)
}

func main() {
	g := &Greeter{Name: "world"}
	g.Greet()
}
`

func TestGoExtractor_ExtractsImportsTypesAndFunctions(t *testing.T) {
	res, err := NewGoExtractor().Extract("sample.go", []byte(goSample))
	require.NoError(t, err)

	var names []string
	for _, p := range res.POIs {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "fmt")
	assert.Contains(t, names, "Greeter")
	assert.Contains(t, names, "Greeter.Greet")
	assert.Contains(t, names, "main")
}

func TestGoExtractor_EmitsCallsRelationship(t *testing.T) {
	res, err := NewGoExtractor().Extract("sample.go", []byte(goSample))
	require.NoError(t, err)

	var calls []RawRelationship
	for _, r := range res.Relationships {
		if r.Type == model.RelCalls {
			calls = append(calls, r)
		}
	}
	require.NotEmpty(t, calls)
	found := false
	for _, c := range calls {
		if c.From == "main" && c.To == "g.Greet" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGoExtractor_EmitsImportsRelationship(t *testing.T) {
	res, err := NewGoExtractor().Extract("sample.go", []byte(goSample))
	require.NoError(t, err)

	found := false
	for _, r := range res.Relationships {
		if r.Type == model.RelImports && r.To == "fmt" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGoExtractor_RejectsUnparseableSource(t *testing.T) {
	_, err := NewGoExtractor().Extract("broken.go", []byte("this is not valid go"))
	assert.Error(t, err)
}
