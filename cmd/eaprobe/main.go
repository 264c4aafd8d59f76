// Command eaprobe is a fake-EA CLI: it dials the relay's gateway websocket,
// sends a Heartbeat on a fixed interval (auto-registering like a real EA),
// optionally emits a single TradeSignal as a master, and prints every
// decoded frame the relay pushes back (MasterConfig/SlaveConfig pushes,
// copied TradeSignals). Useful for exercising internal/wire and
// internal/gateway end-to-end without a real MetaTrader terminal.
//
// Usage:
//
//	eaprobe -account-id MASTER_1 -role master
//	eaprobe -account-id SLAVE_1 -role slave
//	eaprobe -account-id MASTER_1 -role master -send-trade -symbol EURUSD
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sankey-copier/relay-server/internal/wire"
)

func main() {
	url := flag.String("url", "ws://localhost:8700/gateway", "relay gateway websocket endpoint")
	accountID := flag.String("account-id", "PROBE_1", "account id this probe identifies as")
	role := flag.String("role", "slave", "master or slave")
	platform := flag.String("platform", "MT4", "MT4 or MT5")
	heartbeatEvery := flag.Duration("heartbeat", 5*time.Second, "heartbeat interval")
	sendTrade := flag.Bool("send-trade", false, "also send one TradeSignal after the first heartbeat (master only)")
	symbol := flag.String("symbol", "EURUSD", "symbol used by -send-trade")
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	eaRole := wire.RoleSlave
	if *role == "master" {
		eaRole = wire.RoleMaster
	}
	eaPlatform := wire.PlatformMT4
	if *platform == "MT5" {
		eaPlatform = wire.PlatformMT5
	}

	log.Printf("connecting to %s as %s (%s)", *url, *accountID, eaRole)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	log.Println("connected")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})
	go func() {
		<-sigCh
		log.Println("shutting down...")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		close(done)
	}()

	go readLoop(conn)

	sendHeartbeat(conn, *accountID, eaRole, eaPlatform)
	if *sendTrade && eaRole == wire.RoleMaster {
		time.Sleep(200 * time.Millisecond)
		sendSampleTrade(conn, *accountID, *symbol)
	}

	ticker := time.NewTicker(*heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			sendHeartbeat(conn, *accountID, eaRole, eaPlatform)
		}
	}
}

func sendHeartbeat(conn *websocket.Conn, accountID string, role wire.Role, platform wire.Platform) {
	hb := &wire.Heartbeat{
		Envelope:       wire.Envelope{MessageType: wire.TypeHeartbeat, Timestamp: time.Now()},
		AccountID:      accountID,
		Role:           role,
		Platform:       platform,
		IsTradeAllowed: true,
		Balance:        10000,
		Equity:         10000,
	}
	send(conn, hb)
}

func sendSampleTrade(conn *websocket.Conn, masterAccountID, symbol string) {
	lots := 0.1
	price := 1.10000
	sig := &wire.TradeSignal{
		Envelope:      wire.Envelope{MessageType: wire.TypeTradeSignal, Timestamp: time.Now()},
		Action:        wire.ActionOpen,
		Ticket:        1,
		Symbol:        &symbol,
		OrderType:     orderTypePtr(wire.OrderBuy),
		Lots:          &lots,
		OpenPrice:     &price,
		SourceAccount: masterAccountID,
	}
	send(conn, sig)
}

func orderTypePtr(o wire.OrderType) *wire.OrderType { return &o }

func send(conn *websocket.Conn, msg any) {
	body, err := wire.EncodeBody(msg)
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, body); err != nil {
		log.Fatalf("write: %v", err)
	}
}

func readLoop(conn *websocket.Conn) {
	for {
		_, body, err := conn.ReadMessage()
		if err != nil {
			log.Printf("read: %v", err)
			return
		}
		kind, msg, err := wire.DecodeBody(body)
		if err != nil {
			log.Printf("decode: %v", err)
			continue
		}
		fmt.Printf("<- %-14s %+v\n", kind, msg)
	}
}
