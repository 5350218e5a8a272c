package faissrag

// Version is set at build time with -ldflags "-X github.com/kundankumarKD/faissrag.Version=...".
var Version = "dev"
