package proxy

import (
	"fmt"
)

// writeIntrospection answers the "#?" client command with a dump of
// every tracked socket. The report goes only to the asking client and
// nothing is forwarded to the backend.
func (s *Server) writeIntrospection(requester *Session) {
	report := s.introspectionReport()
	for _, line := range report {
		s.writeLine(requester.client, line)
	}
}

func (s *Server) introspectionReport() []string {
	lines := []string{
		fmt.Sprintf("listener  -    connected      %s", s.cfg.ListenAddr()),
	}

	if s.online() {
		lines = append(lines, fmt.Sprintf("hb        -    connected      %s", s.cfg.Heartbeat.User))
	} else {
		lines = append(lines, "hb        -    not-connected  -")
	}

	for _, sess := range s.registry.All() {
		user := sess.user
		if user == "" {
			user = "unconnected"
		}
		lines = append(lines, fmt.Sprintf("client    #%-3d connected      %s [%s] %s",
			sess.id, user, sess.remoteHost, sess.State()))
		if sess.backend != nil {
			lines = append(lines, fmt.Sprintf("world     #%-3d connected      %s", sess.id, user))
		} else {
			lines = append(lines, fmt.Sprintf("world     #%-3d not-connected  %s", sess.id, user))
		}
	}

	for _, problem := range s.registry.CheckIntegrity() {
		lines = append(lines, "INTEGRITY: "+problem)
	}
	return lines
}
