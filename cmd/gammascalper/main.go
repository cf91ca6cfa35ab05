// Command gammascalper runs the delta-hedging strategy against a
// configured exchange session. The live FIX engine is injected by the
// deployment; this binary wires the replay transport, which serves
// both the testing strategy and log-replay runs of the scalper.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HershyOrg/gammascalper/config"
	"github.com/HershyOrg/gammascalper/controller"
	"github.com/HershyOrg/gammascalper/internal/logging"
	"github.com/HershyOrg/gammascalper/transport"
	"github.com/HershyOrg/gammascalper/transport/replay"
)

const reconnectDelay = 5 * time.Minute

func main() {
	var userConfigPath string
	var strategyName string
	flag.StringVar(&userConfigPath, "u", "", "path to the user configuration file")
	flag.StringVar(&userConfigPath, "user_config", "", "path to the user configuration file")
	flag.StringVar(&strategyName, "s", "testing", "strategy to run: gamma_scalper or testing")
	flag.StringVar(&strategyName, "strategy", "testing", "strategy to run: gamma_scalper or testing")
	flag.Parse()

	log := logging.Default()

	if userConfigPath == "" {
		log.Errorf("ERROR: the user configuration file is required (-u)")
		os.Exit(1)
	}

	configuration, err := config.Load(userConfigPath)
	if err != nil {
		log.Errorf("ERROR: impossible to process the configuration file: %v", err)
		os.Exit(1)
	}

	opts, err := strategyOptions(configuration)
	if err != nil {
		log.Errorf("ERROR: %v", err)
		os.Exit(1)
	}

	newSession, err := sessionFactory(configuration)
	if err != nil {
		log.Errorf("ERROR: %v", err)
		os.Exit(1)
	}

	switch strategyName {
	case "gamma_scalper":
		for {
			strategy, err := controller.New(opts, newSession)
			if err != nil {
				log.Errorf("ERROR: %v", err)
				os.Exit(1)
			}
			if err := strategy.Run(); err != nil {
				log.Criticalf("%v", err)
				os.Exit(1)
			}
			log.Infof("Session ended, reconnecting in %s", reconnectDelay)
			time.Sleep(reconnectDelay)
		}
	default:
		strategy, err := controller.New(opts, newSession)
		if err != nil {
			log.Errorf("ERROR: %v", err)
			os.Exit(1)
		}
		if err := strategy.Run(); err != nil {
			log.Criticalf("%v", err)
			os.Exit(1)
		}
	}
}

func strategyOptions(configuration config.File) (controller.Options, error) {
	sweetener, err := configuration.PriceSweetener()
	if err != nil {
		return controller.Options{}, err
	}
	interestRate, err := configuration.InterestRate()
	if err != nil {
		return controller.Options{}, err
	}
	return controller.Options{
		AuxFolder:      configuration.AuxFolder(),
		PriceSweetener: sweetener,
		InterestRate:   interestRate,
	}, nil
}

func sessionFactory(configuration config.File) (func(transport.Callbacks) (transport.Session, error), error) {
	replayPath, ok := configuration.LogToReplay()
	if !ok {
		return nil, fmt.Errorf("no transport available: set LogToReplay for replay mode or link a FIX session")
	}
	return func(callbacks transport.Callbacks) (transport.Session, error) {
		return replay.NewSession(replayPath, 0, callbacks), nil
	}, nil
}
