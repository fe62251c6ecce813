package configs

import (
	"fmt"
	"log"
	"time"

	"github.com/goccy/go-json"
	"github.com/magiconair/properties"
)

var ConfigFileLocation = ""

// LoadFile applies a magiconair/properties file on top of the current
// defaults. Missing keys keep their current value. It only sets the vars in
// this package; command-line flags are separate and are not layered on top.
func LoadFile(path string) error {
	if path == "" {
		return nil
	}
	props, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return err
	}
	NodeID = props.GetString("node_id", NodeID)
	ListenAddress = props.GetString("listen_address", ListenAddress)
	StorageBackend = props.GetString("storage_backend", StorageBackend)
	WALDirectory = props.GetString("wal_directory", WALDirectory)
	StatusAddress = props.GetString("status_address", StatusAddress)
	FastQuorumOverride = props.GetInt("fast_quorum", FastQuorumOverride)
	SlowQuorumOverride = props.GetInt("slow_quorum", SlowQuorumOverride)
	PostgresDSN = props.GetString("postgres_dsn", PostgresDSN)
	MongoURI = props.GetString("mongo_uri", MongoURI)
	MongoDatabase = props.GetString("mongo_database", MongoDatabase)
	ConfigFileLocation = path
	return nil
}

func Debugf(format string, a ...interface{}) {
	if !ShowDebugInfo {
		return
	}
	emit(format, a...)
}

func Tracef(format string, a ...interface{}) {
	if !ShowTraceInfo {
		return
	}
	emit(format, a...)
}

func emit(format string, a ...interface{}) {
	line := time.Now().Format("15:04:05.000") + " <---> " + format + "\n"
	if LogToFile {
		log.Printf(line, a...)
	} else {
		fmt.Printf(line, a...)
	}
}

func JToString(v interface{}) string {
	byt, _ := json.Marshal(v)
	return string(byt)
}

// Assert panics on invariant violation, matching the teacher's treatment of
// internal bugs as unrecoverable rather than propagated errors.
func Assert(cond bool, msg string) {
	if !cond {
		panic("[ERROR] assertion failed: " + msg)
	}
}

func Warnf(format string, a ...interface{}) {
	if !ShowWarnings {
		return
	}
	line := "[WARNING] " + format + "\n"
	if LogToFile {
		log.Printf(line, a...)
	} else {
		fmt.Printf(line, a...)
	}
}

func CheckError(err error) {
	if err != nil {
		panic(err.Error())
	}
}
