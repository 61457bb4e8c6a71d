package recipes

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCSV = `Titre,Ingrédients Clés,Préparation (min),Cuisson (min),Contient viande/poisson ?,URL
Poulet rôti,"poulet, pommes de terre, thym",15,60,Oui,https://example.com/poulet
Gratin de courgettes,"courgettes,  crème , gruyère",20,35.0,Non,
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recipes.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestLoad(t *testing.T) {
	s := NewStore(writeFile(t, sampleCSV))

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d recipes, want 2", len(got))
	}

	want := Recipe{
		Title:              "Poulet rôti",
		KeyIngredients:     "poulet, pommes de terre, thym",
		PrepMinutes:        15,
		CookMinutes:        60,
		ContainsMeatOrFish: MeatYes,
		SourceURL:          "https://example.com/poulet",
	}
	if got[0] != want {
		t.Errorf("got[0] = %+v, want %+v", got[0], want)
	}
	if got[1].CookMinutes != 35 {
		t.Errorf("CookMinutes = %d, want 35 (float truncated)", got[1].CookMinutes)
	}
	if !got[1].Vegetarian() {
		t.Error("gratin should be vegetarian")
	}
	if got[1].SourceURL != "" {
		t.Errorf("SourceURL = %q, want empty", got[1].SourceURL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope.csv"))

	got, err := s.Load()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil table", got)
	}
}

func TestLoad_BadMinutesKeepsRows(t *testing.T) {
	s := NewStore(writeFile(t, sampleCSV+"Soupe,\"poireaux, pommes de terre\",10 min,abc,Non,\n"))

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d recipes, want 3", len(got))
	}
	soupe := got[2]
	if soupe.Title != "Soupe" || soupe.PrepMinutes != 0 || soupe.CookMinutes != 0 {
		t.Errorf("soupe = %+v", soupe)
	}
	if got[0].PrepMinutes != 15 {
		t.Errorf("other rows affected: %+v", got[0])
	}
}

func TestLoad_MissingColumnsTolerated(t *testing.T) {
	s := NewStore(writeFile(t, "Titre,Ingrédients Clés\nSalade,\"laitue, tomate\"\n"))

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].PrepMinutes != 0 || got[0].SourceURL != "" {
		t.Errorf("got %+v", got)
	}
}

func TestAppend_InsertsMissingNewline(t *testing.T) {
	content := strings.TrimSuffix(sampleCSV, "\n")
	path := writeFile(t, content)
	s := NewStore(path)

	r := Recipe{Title: "Soupe", KeyIngredients: "poireaux", PrepMinutes: 10, CookMinutes: 30, ContainsMeatOrFish: MeatNo}
	if err := s.Append(r); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got := readFile(t, path)
	want := content + "\nSoupe,poireaux,10,30,Non,\n"
	if got != want {
		t.Errorf("file =\n%q\nwant\n%q", got, want)
	}
}

func TestAppend_NoExtraNewline(t *testing.T) {
	path := writeFile(t, sampleCSV)
	s := NewStore(path)

	r := Recipe{Title: "Soupe", KeyIngredients: "poireaux", ContainsMeatOrFish: MeatNo}
	if err := s.Append(r); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got := readFile(t, path)
	if strings.Contains(got, "\n\n") {
		t.Errorf("file contains a blank line:\n%s", got)
	}
	if !strings.HasSuffix(got, "Soupe,poireaux,0,0,Non,\n") {
		t.Errorf("file does not end with new row:\n%s", got)
	}
}

func TestAppend_CreatesFileWithHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "files", "recipes.csv")
	s := NewStore(path)

	r := Recipe{Title: "Pâtes, sauce tomate", KeyIngredients: "pâtes, tomate", ContainsMeatOrFish: MeatNo}
	if err := s.Append(r); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got := readFile(t, path)
	lines := strings.Split(strings.TrimSpace(got), "\n")
	if lines[0] != strings.Join(Header, ",") {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != `"Pâtes, sauce tomate","pâtes, tomate",0,0,Non,` {
		t.Errorf("row = %q (quoting should be minimal)", lines[1])
	}
}

func TestAppend_RoundTrip(t *testing.T) {
	s := NewStore(writeFile(t, sampleCSV))

	before, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	r := Recipe{Title: "Curry", KeyIngredients: "pois chiches, lait de coco", PrepMinutes: 10, CookMinutes: 25, ContainsMeatOrFish: MeatNo, SourceURL: "https://example.com/curry"}
	if err := s.Append(r); err != nil {
		t.Fatalf("Append: %v", err)
	}

	after, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(after) != len(before)+1 {
		t.Fatalf("got %d recipes, want %d", len(after), len(before)+1)
	}
	for i := range before {
		if after[i] != before[i] {
			t.Errorf("after[%d] = %+v, want %+v", i, after[i], before[i])
		}
	}
	if after[len(after)-1] != r {
		t.Errorf("last = %+v, want %+v", after[len(after)-1], r)
	}
}

func TestAppend_DuplicatesAllowed(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "recipes.csv"))
	r := Recipe{Title: "Omelette", KeyIngredients: "oeufs", ContainsMeatOrFish: MeatNo}

	for range 2 {
		if err := s.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d recipes, want 2", len(got))
	}
}

func TestRewrite(t *testing.T) {
	path := writeFile(t, sampleCSV)
	s := NewStore(path)

	recipes := []Recipe{{Title: "Seul", KeyIngredients: "riz", ContainsMeatOrFish: MeatNo}}
	if err := s.Rewrite(recipes); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0] != recipes[0] {
		t.Errorf("got %+v, want %+v", got, recipes)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestURLLog_Add(t *testing.T) {
	path := filepath.Join(t.TempDir(), "URL_recipes.csv")
	l := NewURLLog(path)

	for _, u := range []string{"https://a.example", "https://b.example"} {
		if err := l.Add(u); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	want := "URL\nhttps://a.example\nhttps://b.example\n"
	if got := readFile(t, path); got != want {
		t.Errorf("file = %q, want %q", got, want)
	}
}

func TestParseMeatFlag(t *testing.T) {
	cases := map[string]MeatFlag{"Oui": MeatYes, "yes": MeatYes, " NON ": MeatNo, "no": MeatNo}
	for in, want := range cases {
		got, err := ParseMeatFlag(in)
		if err != nil || got != want {
			t.Errorf("ParseMeatFlag(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMeatFlag("maybe"); err == nil {
		t.Error("ParseMeatFlag(maybe) should fail")
	}
}

func TestValidate(t *testing.T) {
	ok := Recipe{Title: "T", KeyIngredients: "a", ContainsMeatOrFish: MeatNo}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	noTitle := ok
	noTitle.Title = " "
	if !errors.Is(noTitle.Validate(), ErrTitleRequired) {
		t.Error("want ErrTitleRequired")
	}

	negative := ok
	negative.CookMinutes = -1
	if negative.Validate() == nil {
		t.Error("negative minutes should fail")
	}
}
