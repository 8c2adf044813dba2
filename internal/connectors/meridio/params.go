package meridio

import (
	"fmt"
	"net/url"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
)

// Configuration parameter names.
const (
	ParamDMWSProtocol = "DMWSServerProtocol"
	ParamDMWSServer   = "DMWSServerName"
	ParamDMWSPort     = "DMWSServerPort"
	ParamDMWSLocation = "DMWSLocation"

	ParamRMWSProtocol = "RMWSServerProtocol"
	ParamRMWSServer   = "RMWSServerName"
	ParamRMWSPort     = "RMWSServerPort"
	ParamRMWSLocation = "RMWSLocation"

	ParamMetaCartaProtocol = "MetaCartaWSServerProtocol"
	ParamMetaCartaServer   = "MetaCartaWSServerName"
	ParamMetaCartaPort     = "MetaCartaWSServerPort"
	ParamMetaCartaLocation = "MetaCartaWSLocation"

	ParamUserName = "UserName"
	ParamPassword = "Password"

	ParamClientProtocol = "MeridioWebClientProtocol"
	ParamClientServer   = "MeridioWebClientServerName"
	ParamClientPort     = "MeridioWebClientServerPort"
	ParamClientLocation = "MeridioWebClientDocDownloadLocation"
)

type settings struct {
	dmwsURL      string
	rmwsURL      string
	metaCartaURL string
	userName     string
	password     string

	// urlVersionBase goes into every version string; urlBase prefixes the
	// document id to form the fetch URL.
	urlVersionBase string
	urlBase        string
}

func endpoint(p crawler.ConfigParams, protoKey, serverKey, portKey, locationKey string) string {
	port := p.Get(portKey)
	if port != "" {
		port = ":" + port
	}
	return p.Get(protoKey) + "://" + p.Get(serverKey) + port + p.Get(locationKey)
}

func parseSettings(p crawler.ConfigParams) (settings, error) {
	s := settings{
		dmwsURL:  endpoint(p, ParamDMWSProtocol, ParamDMWSServer, ParamDMWSPort, ParamDMWSLocation),
		rmwsURL:  endpoint(p, ParamRMWSProtocol, ParamRMWSServer, ParamRMWSPort, ParamRMWSLocation),
		userName: p.Get(ParamUserName),
		password: p.GetObfuscated(ParamPassword),
	}
	if p.Get(ParamMetaCartaServer) != "" {
		s.metaCartaURL = endpoint(p, ParamMetaCartaProtocol, ParamMetaCartaServer, ParamMetaCartaPort, ParamMetaCartaLocation)
	}
	for _, svc := range []struct{ name, raw string }{{"DM", s.dmwsURL}, {"RM", s.rmwsURL}} {
		u, err := url.Parse(svc.raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return s, fmt.Errorf("could not construct the URL for the %s web service %q: %w", svc.name, svc.raw, crawler.ErrBadConfiguration)
		}
	}
	s.urlVersionBase = endpoint(p, ParamClientProtocol, ParamClientServer, ParamClientPort, ParamClientLocation)
	s.urlBase = s.urlVersionBase + "?launchMode=1&launchAs=0&documentId="
	return s, nil
}
