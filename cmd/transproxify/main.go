// Command transproxify accepts firewall-redirected TCP and UDP traffic,
// recovers each connection or datagram's original destination, and
// relays it to that destination through a configured upstream proxy.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/ashleynewson/transproxify/internal/settings"
	"github.com/ashleynewson/transproxify/internal/tcpserver"
	"github.com/ashleynewson/transproxify/internal/tproxy"
	"github.com/ashleynewson/transproxify/internal/udpserver"
	"github.com/ashleynewson/transproxify/internal/udpsession"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	flags := pflag.NewFlagSet("transproxify", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.Usage = func() { printUsage(stderr) }

	var (
		proxyProtocolFlag = flags.StringP("proxy-protocol", "t", "http", "Upstream proxy protocol: direct, http, socks4, socks5")
		proxiedProtocol   = flags.StringP("proxied-protocol", "r", "tcp", "Transport protocol to redirect: tcp, udp")
		username          = flags.StringP("username", "u", "", "Username for proxy authentication")
		password          = flags.StringP("password", "P", "", "Password for proxy authentication")
		promptPassword    = flags.BoolP("prompt-password", "p", false, "Prompt for a password at startup, with terminal echo disabled")
		verbose           = flags.Bool("verbose", false, "Enable per-connection/per-session error logging")
	)

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		printUsage(stderr)
		return err
	}

	if flags.NArg() != 3 {
		printUsage(stderr)
		return errors.New("expected PROXY_HOST PROXY_PORT LISTEN_PORT")
	}
	proxyHost := flags.Arg(0)
	proxyPort, err := strconv.Atoi(flags.Arg(1))
	if err != nil {
		return fmt.Errorf("invalid PROXY_PORT: %w", err)
	}
	listenPort, err := strconv.Atoi(flags.Arg(2))
	if err != nil {
		return fmt.Errorf("invalid LISTEN_PORT: %w", err)
	}

	proxyProtocol, err := settings.ParseProxyProtocol(*proxyProtocolFlag)
	if err != nil {
		return err
	}
	proxiedProto, err := settings.ParseProxiedProtocol(*proxiedProtocol)
	if err != nil {
		return err
	}

	if *promptPassword {
		fmt.Fprint(stderr, "Password: ")
		read, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(stderr)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		*password = string(read)
	}

	s, err := settings.New(proxyProtocol, proxiedProto, proxyHost, proxyPort, *username, *password)
	if err != nil {
		return err
	}

	listenAddr := fmt.Sprintf(":%d", listenPort)

	g, ctx := errgroup.WithContext(context.Background())
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch s.ProxiedProtocol() {
	case settings.TCP:
		ln, err := tproxy.ListenTransparentTCP(listenAddr)
		if err != nil {
			return fmt.Errorf("tcp listen: %w", err)
		}
		srv := tcpserver.NewServer(ctx, s, *verbose)
		context.AfterFunc(ctx, func() { _ = ln.Close() })

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil {
				return fmt.Errorf("tcp serve: %w", err)
			}
			return nil
		})
		log.Printf("transproxify: tcp listening on %s, relaying via %s", listenAddr, proxyProtocol)

	case settings.UDP:
		conn, err := tproxy.ListenTransparentUDP(listenAddr)
		if err != nil {
			return fmt.Errorf("udp listen: %w", err)
		}
		sessions := udpsession.NewTable(udpsession.DefaultIdleTimeout)
		srv := udpserver.NewServer(ctx, s, sessions, *verbose)
		context.AfterFunc(ctx, func() {
			_ = conn.Close()
			sessions.Close()
		})

		g.Go(func() error {
			if err := srv.Serve(conn); err != nil {
				return fmt.Errorf("udp serve: %w", err)
			}
			return nil
		})
		log.Printf("transproxify: udp listening on %s, relaying via %s", listenAddr, proxyProtocol)
	}

	err = g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	log.Print("transproxify: shutting down")
	return err
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Transproxify

Usage:
    transproxify [OPTIONS...] PROXY_HOST PROXY_PORT LISTEN_PORT

Synopsis:
    Perform transparent TCP/UDP proxying through a direct, HTTP, or
    SOCKS4/5 upstream proxy.

    Not all software supports configuring proxies. With transproxify, you
    can force traffic through a proxy from inside the router by
    redirecting it to a local listen port.

    Transproxify listens on the given port accepting redirected traffic.
    When a redirected client connects (TCP) or sends a datagram (UDP),
    transproxify recovers the original destination, establishes a tunnel
    to it via the configured upstream proxy, and relays data between the
    client and that tunnel, transparent to the client.

    Transproxify does not intercept traffic by itself; firewall rules must
    redirect it first. For example, to proxy HTTP and HTTPS on ports 80
    and 443 via proxyserver:8080:

      # echo 1 > /proc/sys/net/ipv4/ip_forward
      # iptables -t nat -A PREROUTING -p tcp \
            --match multiport --dports 80,443 \
            -j REDIRECT --to-port 10000
      # transproxify proxyserver 8080 10000

Options:
    -r PROXIED_PROTOCOL
        Transport protocol to redirect. Default is tcp.
        Valid choices: tcp, udp
    -t PROXY_PROTOCOL
        Upstream proxy protocol. Default is http.
        Valid choices for tcp: direct, http, socks4, socks5
        Valid choices for udp: direct, socks5
    -u USERNAME
        Username for proxy authentication.

        WARNING: all credentials are sent over the network in cleartext!
    -p
        Prompt for a password at startup, with terminal echo disabled.

        WARNING: all credentials are sent over the network in cleartext!
    -P PASSWORD
        Password for proxy authentication, given directly on the command
        line.

        WARNING: other users on this system can often see this password
        by examining the process table.

        WARNING: all credentials are sent over the network in cleartext!

UDP Setup:
    UDP proxying needs a routing table that treats any address as local,
    plus a TPROXY mangle rule marking and redirecting the desired
    packets. For example, to proxy UDP port 53 via a SOCKS5 proxy:

      # ip rule add fwmark 1 lookup 100
      # ip route add local 0.0.0.0/0 dev lo table 100
      # iptables -t mangle -A PREROUTING -p udp --dport 53 \
            -j TPROXY --tproxy-mark 0x1/0x1 --on-port 10000
      # transproxify -r udp -t socks5 proxyserver 1080 10000

Direct Connections:
    Transproxify can talk to destination servers directly, without an
    upstream proxy, for both TCP and UDP. This is mainly useful for
    debugging, or alongside other transparent proxying software. Specify
    "direct" as the proxy protocol; PROXY_HOST and PROXY_PORT are ignored:

      # transproxify -t direct localhost 0 10000

Proxy authentication:
    HTTP: if a username or password is given, a Proxy-Authorization
    header using the basic scheme is sent.

    SOCKS4: if a username or password is given, it is sent as the UserId
    field; the username takes precedence if both are given.

    SOCKS5: if a username or password is given, transproxify offers the
    username/password authentication method alongside the
    no-authentication method; otherwise only no-authentication is
    offered.

Security:
    Transproxify provides no confidentiality, integrity, or availability
    guarantees. All tunnels and proxy credentials are transferred in
    cleartext. Any host that can reach the listen port can use
    transproxify without authentication, gaining access to the upstream
    proxy. Client applications should enforce their own security (such as
    TLS) where it matters.
`)
}
