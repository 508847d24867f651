package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

const pySample = `class Animal:
    def speak(self):
        return "..."

class Dog(Animal):
    def speak(self):
        return self.bark()

    def bark(self):
        return "woof"
`

func TestTreeSitterExtractor_Python_ExtractsClassesAndMethods(t *testing.T) {
	res, err := NewTreeSitterExtractor(pythonLang()).Extract("sample.py", []byte(pySample))
	require.NoError(t, err)

	var names []string
	for _, p := range res.POIs {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "Animal")
	assert.Contains(t, names, "Dog")
	assert.Contains(t, names, "Dog.speak")
	assert.Contains(t, names, "Dog.bark")
}

func TestTreeSitterExtractor_Python_EmitsExtendsRelationship(t *testing.T) {
	res, err := NewTreeSitterExtractor(pythonLang()).Extract("sample.py", []byte(pySample))
	require.NoError(t, err)

	found := false
	for _, r := range res.Relationships {
		if r.Type == model.RelExtends && r.From == "Dog" && r.To == "Animal" {
			found = true
		}
	}
	assert.True(t, found)
}

const jsSample = `
function helper() {
  return 1;
}

class Widget {
  render() {
    return helper();
  }
}
`

func TestTreeSitterExtractor_JavaScript_ExtractsFunctionsAndClasses(t *testing.T) {
	res, err := NewTreeSitterExtractor(javascriptLang()).Extract("sample.js", []byte(jsSample))
	require.NoError(t, err)

	var names []string
	for _, p := range res.POIs {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "helper")
	assert.Contains(t, names, "Widget")
	assert.Contains(t, names, "Widget.render")
}

func TestDefaultRegistry_DispatchesByExtension(t *testing.T) {
	reg := DefaultRegistry()
	e, ok := reg.For(".go")
	require.True(t, ok)
	assert.Equal(t, "go", e.Language())

	e, ok = reg.For(".py")
	require.True(t, ok)
	assert.Equal(t, "python", e.Language())

	_, ok = reg.For(".unknown")
	assert.False(t, ok)
}
