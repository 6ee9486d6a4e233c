package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kinfolkhq/kinfolk/db"
	"github.com/kinfolkhq/kinfolk/federation"
	"github.com/kinfolkhq/kinfolk/util"
	"github.com/kinfolkhq/kinfolk/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	log.Println("Running database migrations...")
	database := db.GetDB()
	if err := database.RunMigrations(); err != nil {
		log.Printf("Warning: Migration errors (may be normal if tables exist): %v", err)
	}
	log.Println("Database migrations complete")

	var deliverer *federation.Deliverer
	if conf.Conf.Federate {
		deliverer = federation.NewDeliverer(database, conf)
	}
	distributor := federation.NewDistributor(database, deliverer, conf.Conf.Hostname)

	deps := &web.Deps{
		Database:    database,
		Inbox:       federation.NewInbox(database, distributor),
		Distributor: distributor,
		Pairer:      federation.NewPairer(database, conf.Conf.Hostname),
		Redeemer:    federation.NewTokenRedeemer(),
		Discovery:   federation.NewDiscoveryClient(database, conf.Conf.Hostname),
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Router(conf, deps); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping federation server")
	if deliverer != nil {
		deliverer.Stop()
	}
}
