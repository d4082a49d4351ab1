package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDirDiscoversLayouts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sd15", "model_index.json"), `{"_class_name":"StableDiffusionPipeline"}`)
	writeFile(t, filepath.Join(dir, "dreamshaper.safetensors"), "stub")
	// Not models: a bare directory and a stray text file.
	if err := os.MkdirAll(filepath.Join(dir, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "readme.txt"), "hi")

	r, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	models := r.List()
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2: %+v", len(models), models)
	}
	// List is sorted by id.
	if models[0].ID != "dreamshaper" || models[0].Layout != LayoutCheckpoint {
		t.Fatalf("models[0] = %+v, want dreamshaper checkpoint", models[0])
	}
	if models[1].ID != "sd15" || models[1].Layout != LayoutDiffusers {
		t.Fatalf("models[1] = %+v, want sd15 diffusers", models[1])
	}
}

func TestRescanDropsDeletedModels(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.safetensors"), "stub")
	writeFile(t, filepath.Join(dir, "b.safetensors"), "stub")

	r, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(r.List()) != 2 {
		t.Fatalf("got %d models, want 2", len(r.List()))
	}

	if err := os.Remove(filepath.Join(dir, "b.safetensors")); err != nil {
		t.Fatal(err)
	}
	if err := r.Rescan(dir); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if _, ok := r.Get("b"); ok {
		t.Fatal("deleted model still present after rescan")
	}
	if _, ok := r.Get("a"); !ok {
		t.Fatal("surviving model dropped by rescan")
	}
}

func TestLoadDirMissing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("LoadDir on missing dir succeeded")
	}
}

func TestGetUnknown(t *testing.T) {
	r := New()
	if _, ok := r.Get("nope"); ok {
		t.Fatal("Get returned a model from an empty registry")
	}
}
