package hostcheck

import (
	"context"
	"errors"
	"net"
	"sort"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/octodash/dashconf/pkg/dashconfig"
)

type mockExchanger struct {
	mock.Mock
}

func (m *mockExchanger) ExchangeContext(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, time.Duration, error) {
	args := m.Called(ctx, msg, addr)
	if resp := args.Get(0); resp != nil {
		return resp.(*dns.Msg), 0, args.Error(1)
	}
	return nil, 0, args.Error(1)
}

func question(host string, qtype uint16) any {
	return mock.MatchedBy(func(msg *dns.Msg) bool {
		return len(msg.Question) == 1 &&
			msg.Question[0].Qtype == qtype &&
			msg.Question[0].Name == dns.Fqdn(host)
	})
}

func aAnswer(host, ip string) *dns.Msg {
	resp := new(dns.Msg)
	resp.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(host), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
		A:   net.ParseIP(ip),
	}}
	return resp
}

func aaaaAnswer(host, ip string) *dns.Msg {
	resp := new(dns.Msg)
	resp.Answer = []dns.RR{&dns.AAAA{
		Hdr:  dns.RR_Header{Name: dns.Fqdn(host), Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 60},
		AAAA: net.ParseIP(ip),
	}}
	return resp
}

type HostcheckTestSuite struct {
	suite.Suite
	ex       *mockExchanger
	resolver *Resolver
}

func (s *HostcheckTestSuite) SetupTest() {
	s.ex = new(mockExchanger)
	s.resolver = New(
		WithExchanger(s.ex),
		WithServers("192.168.1.1:53", "9.9.9.9:53"),
		WithTimeout(time.Second),
	)
}

func (s *HostcheckTestSuite) TestLookup() {
	testCases := []struct {
		name    string
		host    string
		setup   func(m *mockExchanger)
		want    []string
		wantErr error
	}{
		{
			name:    "empty host",
			host:    "  ",
			wantErr: ErrEmptyHost,
		},
		{
			name: "ipv4 literal",
			host: "192.168.1.20",
			want: []string{"192.168.1.20"},
		},
		{
			name: "bracketed ipv6 literal",
			host: "[fd00::20]",
			want: []string{"fd00::20"},
		},
		{
			name: "localhost",
			host: "localhost",
			want: []string{"127.0.0.1", "::1"},
		},
		{
			name: "both families",
			host: "octopi.local",
			setup: func(m *mockExchanger) {
				m.On("ExchangeContext", mock.Anything, question("octopi.local", dns.TypeA), "192.168.1.1:53").
					Return(aAnswer("octopi.local", "192.168.1.20"), nil)
				m.On("ExchangeContext", mock.Anything, question("octopi.local", dns.TypeAAAA), "192.168.1.1:53").
					Return(aaaaAnswer("octopi.local", "fd00::20"), nil)
			},
			want: []string{"192.168.1.20", "fd00::20"},
		},
		{
			name: "first server down",
			host: "octopi.local",
			setup: func(m *mockExchanger) {
				m.On("ExchangeContext", mock.Anything, mock.Anything, "192.168.1.1:53").
					Return(nil, errors.New("i/o timeout"))
				m.On("ExchangeContext", mock.Anything, question("octopi.local", dns.TypeA), "9.9.9.9:53").
					Return(aAnswer("octopi.local", "192.168.1.20"), nil)
				m.On("ExchangeContext", mock.Anything, question("octopi.local", dns.TypeAAAA), "9.9.9.9:53").
					Return(new(dns.Msg), nil)
			},
			want: []string{"192.168.1.20"},
		},
		{
			name: "nxdomain",
			host: "octopi.invalid",
			setup: func(m *mockExchanger) {
				nx := new(dns.Msg)
				nx.Rcode = dns.RcodeNameError
				m.On("ExchangeContext", mock.Anything, mock.Anything, "192.168.1.1:53").Return(nx, nil)
			},
			wantErr: ErrNoRecords,
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.SetupTest()
			if tc.setup != nil {
				tc.setup(s.ex)
			}

			ips, err := s.resolver.Lookup(context.Background(), tc.host)

			if tc.wantErr != nil {
				s.ErrorIs(err, tc.wantErr)
				return
			}
			s.Require().NoError(err)
			got := make([]string, len(ips))
			for i, ip := range ips {
				got[i] = ip.String()
			}
			sort.Strings(got)
			want := append([]string(nil), tc.want...)
			sort.Strings(want)
			s.Equal(want, got)
			s.ex.AssertExpectations(s.T())
		})
	}
}

func (s *HostcheckTestSuite) TestCheckDocument() {
	s.ex.On("ExchangeContext", mock.Anything, question("octopi.local", dns.TypeA), mock.Anything).
		Return(aAnswer("octopi.local", "10.0.0.5"), nil)
	s.ex.On("ExchangeContext", mock.Anything, question("octopi.local", dns.TypeAAAA), mock.Anything).
		Return(new(dns.Msg), nil)

	cfg := dashconfig.Default()
	cfg.Octoprint.URL = "http://octopi.local:5000/"
	res, err := s.resolver.CheckDocument(context.Background(), cfg)

	s.Require().NoError(err)
	s.Equal("octopi.local", res.Host)
	s.Require().Len(res.Addrs, 1)
	s.Equal("10.0.0.5", res.Addrs[0].String())
}

func (s *HostcheckTestSuite) TestCheckDocumentBadURL() {
	cfg := dashconfig.Default()
	cfg.Octoprint.URL = "not a url"

	_, err := s.resolver.CheckDocument(context.Background(), cfg)

	s.ErrorIs(err, dashconfig.ErrInvalidURL)
	s.ex.AssertNotCalled(s.T(), "ExchangeContext", mock.Anything, mock.Anything, mock.Anything)
}

func (s *HostcheckTestSuite) TestLookupWithoutServers() {
	r := &Resolver{exchanger: s.ex, timeout: time.Second}

	_, err := r.Lookup(context.Background(), "octopi.local")

	s.ErrorIs(err, ErrNoServers)
	s.NotContains(err.Error(), "%!w")
	s.ex.AssertNotCalled(s.T(), "ExchangeContext", mock.Anything, mock.Anything, mock.Anything)
}

func (s *HostcheckTestSuite) TestAnswers() {
	_, err := answers(new(dns.Msg))
	s.ErrorIs(err, ErrNoRecords)

	ips, err := answers(aAnswer("x", "1.2.3.4"))
	s.Require().NoError(err)
	s.Equal("1.2.3.4", ips[0].String())
}

func TestHostcheckSuite(t *testing.T) {
	suite.Run(t, new(HostcheckTestSuite))
}
