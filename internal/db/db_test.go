package db

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/opal/internal/config"
	"github.com/zulandar/opal/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		host     string
		port     int
		database string
		want     string
	}{
		{"local", "root", "127.0.0.1", 3306, "opal", "root@tcp(127.0.0.1:3306)/opal?parseTime=true"},
		{"remote", "opal", "db.internal", 3307, "history", "opal@tcp(db.internal:3307)/history?parseTime=true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MySQLDSN(tt.user, tt.host, tt.port, tt.database); got != tt.want {
				t.Errorf("MySQLDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDialector(t *testing.T) {
	tests := []struct {
		driver  string
		want    string
		wantErr bool
	}{
		{config.DriverSQLite, "sqlite", false},
		{"", "sqlite", false},
		{config.DriverMySQL, "mysql", false},
		{"postgres", "", true},
	}
	for _, tt := range tests {
		d, err := Dialector(config.StoreConfig{Driver: tt.driver, Path: ":memory:", DSN: "root@tcp(localhost:3306)/x"})
		if tt.wantErr {
			if err == nil || !strings.Contains(err.Error(), "unknown driver") {
				t.Errorf("Dialector(%q) error = %v, want unknown driver", tt.driver, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Dialector(%q): %v", tt.driver, err)
		}
		if d.Name() != tt.want {
			t.Errorf("Dialector(%q).Name() = %q, want %q", tt.driver, d.Name(), tt.want)
		}
	}
}

func TestOpen_SQLiteFileCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "opal.db")
	db, err := Open(config.StoreConfig{Driver: config.DriverSQLite, Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !db.Migrator().HasTable(&models.JobRecord{}) {
		t.Error("job_records table missing after Open")
	}
	if !db.Migrator().HasTable(&models.IngestRecord{}) {
		t.Error("ingest_records table missing after Open")
	}
}

func TestAllModels(t *testing.T) {
	if got := len(AllModels()); got != 2 {
		t.Errorf("AllModels() has %d models, want 2", got)
	}
}

func TestRecordJob_Upsert(t *testing.T) {
	db := testDB(t)
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := RecordJob(db, models.JobRecord{JobID: "j1", Prompt: "drought strain", State: "polling", StartedAt: started}); err != nil {
		t.Fatalf("RecordJob insert: %v", err)
	}
	finished := started.Add(42 * time.Second)
	if err := RecordJob(db, models.JobRecord{
		JobID: "j1", ConversationID: "conv-1", Prompt: "drought strain",
		State: "resolved", StartedAt: started, FinishedAt: &finished,
	}); err != nil {
		t.Fatalf("RecordJob update: %v", err)
	}

	var count int64
	db.Model(&models.JobRecord{}).Count(&count)
	if count != 1 {
		t.Fatalf("got %d rows, want 1", count)
	}
	rec, err := GetJob(db, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if rec.State != "resolved" || rec.ConversationID != "conv-1" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Duration() != 42*time.Second {
		t.Errorf("Duration = %s, want 42s", rec.Duration())
	}
}

func TestRecordJob_RequiresJobID(t *testing.T) {
	if err := RecordJob(testDB(t), models.JobRecord{}); err == nil {
		t.Error("expected error for empty job id")
	}
}

func TestJobRecorder(t *testing.T) {
	db := testDB(t)
	if err := (JobRecorder{DB: db}).RecordJob(models.JobRecord{JobID: "j9", State: "failed", StartedAt: time.Now()}); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}
	if _, err := GetJob(db, "j9"); err != nil {
		t.Errorf("GetJob: %v", err)
	}
}

func TestListJobs(t *testing.T) {
	db := testDB(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, state := range []string{"resolved", "failed", "resolved"} {
		rec := models.JobRecord{JobID: string(rune('a' + i)), State: state, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := RecordJob(db, rec); err != nil {
			t.Fatalf("RecordJob: %v", err)
		}
	}

	all, err := ListJobs(db, "", 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 3 || all[0].JobID != "c" {
		t.Errorf("ListJobs order = %+v", all)
	}

	resolved, _ := ListJobs(db, "resolved", 1)
	if len(resolved) != 1 || resolved[0].JobID != "c" {
		t.Errorf("filtered ListJobs = %+v", resolved)
	}
}

func TestIngestRecords(t *testing.T) {
	db := testDB(t)

	got, err := FindIngestByChecksum(db, "abc")
	if err != nil || got != nil {
		t.Fatalf("FindIngestByChecksum on empty store = %v, %v", got, err)
	}

	for _, id := range []string{"doc-1", "doc-2"} {
		if err := RecordIngest(db, &models.IngestRecord{Origin: "/drop/a.pdf", Kind: "pdf", Checksum: "abc", SourceDocumentID: id}); err != nil {
			t.Fatalf("RecordIngest: %v", err)
		}
	}

	got, err = FindIngestByChecksum(db, "abc")
	if err != nil {
		t.Fatalf("FindIngestByChecksum: %v", err)
	}
	if got == nil || got.SourceDocumentID != "doc-2" {
		t.Errorf("FindIngestByChecksum = %+v, want latest record", got)
	}

	list, err := ListIngests(db, 10)
	if err != nil {
		t.Fatalf("ListIngests: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ListIngests returned %d rows, want 2", len(list))
	}
}
