package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/op/go-logging"
	"github.com/spf13/cobra"

	"xsell/config"
	"xsell/database"
	"xsell/engine"
	"xsell/logger"
	"xsell/util/crypto"
	"xsell/util/random"
)

func runEngine() {
	log.Printf("%v %v", config.GetName(), config.GetVersion())

	switch config.GetLogLevel() {
	case config.Debug:
		logger.InitLogger(logging.DEBUG)
	case config.Info:
		logger.InitLogger(logging.INFO)
	case config.Warn:
		logger.InitLogger(logging.WARNING)
	case config.Error:
		logger.InitLogger(logging.ERROR)
	default:
		log.Fatal("unknown log level:", config.GetLogLevel())
	}

	err := database.InitDB(config.GetDBPath())
	if err != nil {
		log.Fatal(err)
	}

	var e *engine.Engine

	e = engine.NewEngine()
	err = e.Start()
	if err != nil {
		log.Println(err)
		return
	}

	sigCh := make(chan os.Signal, 1)
	// Trap shutdown signals
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM)
	for {
		sig := <-sigCh

		switch sig {
		case syscall.SIGHUP:
			err := e.Stop()
			if err != nil {
				logger.Warning("stop engine err:", err)
			}
			e = engine.NewEngine()
			err = e.Start()
			if err != nil {
				log.Println(err)
				return
			}
		default:
			err := e.Stop()
			if err != nil {
				return
			}
			return
		}
	}
}

func migrateDb() {
	err := database.InitDB(config.GetDBPath())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("Start migrating database...")
	if err := database.Checkpoint(); err != nil {
		fmt.Println("checkpoint failed:", err)
	}
	fmt.Println("Migration done!")
}

func generateToken() {
	token := random.Seq(32)
	hash, err := crypto.HashTokenAsBcrypt(token)
	if err != nil {
		fmt.Println("generate token failed:", err)
		return
	}
	fmt.Println("API token:", token)
	fmt.Println()
	fmt.Println("Export the hash before starting the engine:")
	fmt.Printf("  XSELL_API_TOKEN_HASH='%s'\n", hash)
}

func main() {
	_ = godotenv.Load()

	var rootCmd = &cobra.Command{
		Use: "xsell",
	}

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the provisioning engine",
		Run: func(cmd *cobra.Command, args []string) {
			runEngine()
		},
	}

	var migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database schema",
		Run: func(cmd *cobra.Command, args []string) {
			migrateDb()
		},
	}

	var settingCmd = &cobra.Command{
		Use:   "setting",
		Short: "Set settings",
	}

	var tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Generate a new intake API token and its hash",
		Run: func(cmd *cobra.Command, args []string) {
			generateToken()
		},
	}

	settingCmd.AddCommand(tokenCmd)

	rootCmd.AddCommand(runCmd, migrateCmd, settingCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
