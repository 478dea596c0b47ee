package main

import (
	"bufio"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"pshare/config"
	"pshare/server"
	"pshare/store"
)

const controlSocketPath = "/tmp/pshare.sock"

func main() {
	cfg := config.Load()

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	srvConfig := &server.Config{
		ReadTimeout:     time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.WriteTimeout) * time.Second,
		ProbeTimeout:    time.Duration(cfg.ProbeTimeout) * time.Second,
		SessionTTL:      time.Duration(cfg.SessionTTL) * time.Second,
		JanitorInterval: time.Duration(cfg.JanitorInterval) * time.Second,
	}

	srv := server.New(srvConfig, server.Stores{
		Users:     db,
		Sessions:  db,
		Requests:  db,
		Transfers: db,
	}, log)

	// Operator socket for stats and shutdown commands.
	go startControlSocket(srv, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.WithField("signal", sig.String()).Info("shutting down")
		srv.Shutdown()
		os.Remove(controlSocketPath)
		os.Exit(0)
	}()

	if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func startControlSocket(srv *server.Server, log *logrus.Logger) {
	os.Remove(controlSocketPath)

	listener, err := net.Listen("unix", controlSocketPath)
	if err != nil {
		log.WithError(err).Error("failed to create control socket")
		return
	}
	defer listener.Close()
	defer os.Remove(controlSocketPath)

	log.WithField("path", controlSocketPath).Info("control socket listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}

		go handleControlCommand(srv, conn, log)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn, log *logrus.Logger) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	switch strings.TrimSpace(line) {
	case "stats":
		conn.Write([]byte("OK|" + srv.Stats() + "\n"))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		// Give time for the response to be sent.
		time.Sleep(100 * time.Millisecond)

		log.Info("shutdown requested via control socket")
		srv.Shutdown()
		os.Remove(controlSocketPath)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
