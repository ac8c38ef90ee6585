package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/okralab/okra-server/internal/models"
	"github.com/okralab/okra-server/internal/services"
	"github.com/okralab/okra-server/internal/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  okractl -db <path> dump [-participant ID] [-experiment ID]
  okractl -db <path> unregister [-key KEY] <participant-id>
`)
	os.Exit(2)
}

func main() {
	dbPath := flag.String("db", "okra.db", "SQLite database file")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}

	db, err := sql.Open("sqlite3", *dbPath)
	if err != nil {
		fatal(err)
	}
	defer db.Close()
	st, err := store.NewSQLiteStore(db)
	if err != nil {
		fatal(err)
	}
	if err := store.RunMigrations(db, ""); err != nil {
		fatal(err)
	}

	switch flag.Arg(0) {
	case "dump":
		runDump(st, flag.Args()[1:])
	case "unregister":
		runUnregister(st, flag.Args()[1:])
	default:
		usage()
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "okractl:", err)
	os.Exit(1)
}

type dumpRecord struct {
	AssignmentID  int64           `json:"assignmentId"`
	ParticipantID string          `json:"participantId"`
	TaskID        string          `json:"taskId"`
	TaskLabel     string          `json:"taskLabel"`
	ExperimentID  string          `json:"experimentId"`
	TaskType      string          `json:"taskType"`
	StartedTime   *time.Time      `json:"startedTime"`
	FinishedTime  *time.Time      `json:"finishedTime"`
	Results       json.RawMessage `json:"results"`
}

func runDump(st *store.SQLiteStore, args []string) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	participant := fs.String("participant", "", "restrict to one participant")
	experiment := fs.String("experiment", "", "restrict to one experiment")
	_ = fs.Parse(args)

	experiments, err := st.ListExperiments()
	if err != nil {
		fatal(err)
	}
	// Practice tasks carry no experiment reference of their own.
	practiceOwner := map[string]*models.Experiment{}
	for _, exp := range experiments {
		if exp.PracticeTaskID != "" {
			practiceOwner[exp.PracticeTaskID] = exp
		}
	}

	assignments, err := st.ListAllAssignments()
	if err != nil {
		fatal(err)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, a := range assignments {
		if *participant != "" && a.ParticipantID != *participant {
			continue
		}
		task, err := st.GetTask(a.TaskID)
		if err != nil {
			fatal(err)
		}
		if task == nil {
			continue
		}
		rec := dumpRecord{
			AssignmentID:  a.ID,
			ParticipantID: a.ParticipantID,
			TaskID:        a.TaskID,
			TaskLabel:     task.Label,
			StartedTime:   a.StartedTime,
			FinishedTime:  a.FinishedTime,
			Results:       a.Results,
		}
		switch {
		case task.ExperimentID != "":
			rec.ExperimentID = task.ExperimentID
			for _, exp := range experiments {
				if exp.ID == task.ExperimentID {
					rec.TaskType = string(exp.TaskType)
					break
				}
			}
		case practiceOwner[task.ID] != nil:
			rec.ExperimentID = practiceOwner[task.ID].ID
			rec.TaskType = string(practiceOwner[task.ID].TaskType)
		}
		if *experiment != "" && rec.ExperimentID != *experiment {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			fatal(err)
		}
	}
}

func runUnregister(st *store.SQLiteStore, args []string) {
	fs := flag.NewFlagSet("unregister", flag.ExitOnError)
	key := fs.String("key", "", "registration key to set, minted when empty")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
	}

	identity := services.NewIdentityService(st)
	newKey, err := identity.Unregister(fs.Arg(0), *key)
	if err != nil {
		fatal(err)
	}
	fmt.Println(newKey)
}
