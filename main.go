package main

import (
	"github.com/sirupsen/logrus"

	"github.com/sellerledger/marketplace-reconciler-backend/cmd"
	cmdUtils "github.com/sellerledger/marketplace-reconciler-backend/cmd/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// Version is the official version of this application.
const Version = "1.4.0"

// GitCommit is populated at build time by
// go build -ldflags "-X main.GitCommit=$GIT_COMMIT"
var GitCommit string

func main() {
	preConfigureLogger()

	if err := cmdUtils.LoadEnvFile(); err != nil {
		log.Warnf("error loading env file: %v", err)
	}

	rootCmd := cmd.SetupCLI(Version, GitCommit)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing root command: %s", err.Error())
	}
}

// preConfigureLogger sets the log level to Trace, so logs work from the
// start. This will eventually be overwritten in cmd/root.go once the
// --log-level option is parsed.
func preConfigureLogger() {
	log.SetLevel(logrus.TraceLevel)
}
