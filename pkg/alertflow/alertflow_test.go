package alertflow

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"nettaskd/pkg/report"
)

func TestWriteReadAlertRoundTrip(t *testing.T) {
	server, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := server.Accept()
		require.NoError(t, err)
		accepted <- conn
	}()

	clientConn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	serverConn := <-accepted
	defer serverConn.Close()

	client := NewConn(clientConn)
	srv := NewConn(serverConn)

	alert, err := report.NewAlert("dev001", "task001", []byte{report.KindCPU, report.KindInterfaceTraffic}, []string{"eth0", "eth1"})
	require.NoError(t, err)

	require.NoError(t, client.WriteAlert(alert))

	received, err := srv.ReadAlert()
	require.NoError(t, err)
	require.Equal(t, alert.DeviceID, received.DeviceID)
	require.Equal(t, alert.TaskID, received.TaskID)
	require.ElementsMatch(t, alert.Spikes, received.Spikes)
	require.ElementsMatch(t, alert.Interfaces, received.Interfaces)
}

func TestMultipleAlertsFramedIndependently(t *testing.T) {
	server, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, _ := server.Accept()
		accepted <- conn
	}()

	clientConn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()
	serverConn := <-accepted
	defer serverConn.Close()

	client := NewConn(clientConn)
	srv := NewConn(serverConn)

	a1, _ := report.NewAlert("d1", "t1", []byte{report.KindCPU}, nil)
	a2, _ := report.NewAlert("d2", "t2", []byte{report.KindRAM}, nil)
	require.NoError(t, client.WriteAlert(a1))
	require.NoError(t, client.WriteAlert(a2))

	got1, err := srv.ReadAlert()
	require.NoError(t, err)
	require.Equal(t, "d1", got1.DeviceID)

	got2, err := srv.ReadAlert()
	require.NoError(t, err)
	require.Equal(t, "d2", got2.DeviceID)
}
