package classify

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testClassifier() *Classifier {
	origin, _ := url.Parse("https://app.test")
	return New(Config{
		Origin:           origin,
		ActionParam:      "action",
		SensitiveActions: []string{"login", "saveUser", "logout"},
		VolatileActions:  []string{"fetchAll", "getSettings", "getCycles"},
		Manifest:         []string{"https://app.test/", "https://app.test/offline"},
		StaticExtensions: []string{".js", ".css", ".png"},
	})
}

func TestClassify(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		name string
		url  string
		want Classification
	}{
		{"sensitive login", "https://app.test/?action=login", Sensitive},
		{"sensitive on any path", "https://app.test/api/v1?action=saveUser", Sensitive},
		{"volatile fetch all", "https://app.test/?action=fetchAll", VolatileData},
		{"volatile get cycles", "https://app.test/api?action=getCycles&page=2", VolatileData},
		{"manifest root", "https://app.test/", StaticAsset},
		{"manifest page", "https://app.test/offline", StaticAsset},
		{"same origin asset", "https://app.test/js/app.js", StaticAsset},
		{"asset extension case", "https://app.test/LOGO.PNG", StaticAsset},
		{"cross origin asset", "https://cdn.test/lib.js", Unclassified},
		{"unknown action", "https://app.test/?action=somethingElse", Unclassified},
		{"plain page", "https://app.test/about", Unclassified},
		{"marker in other param", "https://app.test/about?q=login", Unclassified},
		{"marker substring", "https://app.test/?action=loginHelp", Unclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, c.Classify("GET", u))
		})
	}
}

func TestClassify_SensitiveBeatsVolatile(t *testing.T) {
	c := testClassifier()
	u, _ := url.Parse("https://app.test/?action=fetchAll&action=logout")

	assert.Equal(t, Sensitive, c.Classify("GET", u))
}

func TestClassify_SensitiveBeatsStatic(t *testing.T) {
	c := testClassifier()
	u, _ := url.Parse("https://app.test/app.js?action=login")

	assert.Equal(t, Sensitive, c.Classify("GET", u))
}

func TestClassify_Total(t *testing.T) {
	c := testClassifier()
	assert.Equal(t, Unclassified, c.Classify("GET", nil))

	empty := NewWithRules(nil)
	u, _ := url.Parse("https://app.test/?action=login")
	assert.Equal(t, Unclassified, empty.Classify("GET", u))
}

func TestClassify_FirstMatchWins(t *testing.T) {
	always := func(*url.URL) bool { return true }
	c := NewWithRules([]Rule{
		{Name: "a", Match: always, Class: VolatileData},
		{Name: "b", Match: always, Class: Sensitive},
	})
	u, _ := url.Parse("https://app.test/")

	assert.Equal(t, VolatileData, c.Classify("GET", u))
	assert.Len(t, c.rules, 2)
}

func TestDefaultRuleOrder(t *testing.T) {
	rules := testClassifier().rules

	assert.Equal(t, []Classification{Sensitive, VolatileData, StaticAsset},
		[]Classification{rules[0].Class, rules[1].Class, rules[2].Class})
}

func TestIntercepts(t *testing.T) {
	tests := []struct {
		method string
		url    string
		want   bool
	}{
		{"GET", "https://app.test/", true},
		{"HEAD", "http://app.test/", true},
		{"POST", "https://app.test/?action=login", false},
		{"PUT", "https://app.test/", false},
		{"GET", "chrome-extension://abc/script.js", false},
		{"GET", "file:///etc/hosts", false},
	}

	for _, tt := range tests {
		u, _ := url.Parse(tt.url)
		assert.Equal(t, tt.want, Intercepts(tt.method, u), "%s %s", tt.method, tt.url)
	}
}

func TestClassification_String(t *testing.T) {
	assert.Equal(t, "sensitive", Sensitive.String())
	assert.Equal(t, "volatile", VolatileData.String())
	assert.Equal(t, "static", StaticAsset.String())
	assert.Equal(t, "unclassified", Unclassified.String())
}
