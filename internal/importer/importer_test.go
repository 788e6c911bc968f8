package importer

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/certrail/certrail/internal/delivery"
)

const testSchema = `
CREATE TABLE participants (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	organization TEXT,
	phone TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE certificates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	participant_id INTEGER NOT NULL REFERENCES participants (id),
	certificate_type TEXT NOT NULL,
	artifact_path TEXT NOT NULL,
	email_subject TEXT,
	email_body TEXT,
	sent_at TIMESTAMP,
	status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);
`

func newTestImporter(t *testing.T) (*Importer, *delivery.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatal(err)
	}
	store := delivery.NewStore(db)
	engine := delivery.NewEngine(store, nil, nil)
	return New(engine, nil), store
}

func testArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "certificate.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportWithHeader(t *testing.T) {
	imp, store := newTestImporter(t)
	artifact := testArtifact(t)

	csv := strings.NewReader(
		"Name,Email,Organization\n" +
			"Jane Doe,jane@example.com,Acme\n" +
			"John Roe,john@example.com,\n",
	)

	res, err := imp.Import(context.Background(), csv, artifact, "Completion")
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 2 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}

	st, err := store.Statistics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Participants != 2 || st.Pending != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestImportPositional(t *testing.T) {
	imp, store := newTestImporter(t)
	artifact := testArtifact(t)

	csv := strings.NewReader(
		"Jane Doe,jane@example.com,Acme\n" +
			"John Roe,john@example.com\n",
	)

	res, err := imp.Import(context.Background(), csv, artifact, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 2 {
		t.Errorf("result = %+v", res)
	}

	entries, err := store.History(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.CertificateType != "Certificate" {
			t.Errorf("default certificate type not applied: %q", e.CertificateType)
		}
	}
}

func TestImportRowIsolation(t *testing.T) {
	imp, store := newTestImporter(t)
	artifact := testArtifact(t)

	csv := strings.NewReader(
		"Name,Email\n" +
			"Jane Doe,jane@example.com\n" +
			",missing-name@example.com\n" +
			"No Email,\n" +
			"John Roe,john@example.com\n",
	)

	res, err := imp.Import(context.Background(), csv, artifact, "Completion")
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 2 || res.Failed != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(res.RowErrors) != 2 {
		t.Errorf("row errors = %+v", res.RowErrors)
	}

	st, err := store.Statistics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Pending != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestImportEmpty(t *testing.T) {
	imp, _ := newTestImporter(t)
	res, err := imp.Import(context.Background(), strings.NewReader(""), testArtifact(t), "Completion")
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 0 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
}
