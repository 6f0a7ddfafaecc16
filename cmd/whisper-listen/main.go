// Command whisper-listen captures microphone audio, cuts it into speech
// segments and keeps a searchable history of their transcriptions.
//
// Usage:
//
//	whisper-listen [flags] <command> [args]
//
// Commands:
//
//	listen      - Transcribe speech from the microphone until interrupted
//	transcribe  - Transcribe a WAV file
//	watch       - Transcribe WAV files as they appear in a directory
//	history     - List stored transcriptions
//	search      - Search stored transcriptions
//	delete      - Delete one transcription
//	clear       - Delete every transcription
//	export      - Export the history as JSON or text
//	copy        - Copy a transcription to the clipboard
//	devices     - List audio input devices
//	config      - Show or initialise the config file
//	version     - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/petems/whisper-listen/cmd/whisper-listen/commands"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	if err := commands.Execute(Version, Commit); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
