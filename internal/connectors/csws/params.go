package csws

import (
	"fmt"
	"strconv"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
)

// Configuration parameter names.
const (
	ParamServerProtocol     = "serverProtocol"
	ParamServerName         = "serverName"
	ParamServerPort         = "serverPort"
	ParamServerUserName     = "serverUserName"
	ParamServerPassword     = "serverPassword"
	ParamAuthenticationPath = "authenticationServicePath"
	ParamDocumentMgmtPath   = "documentManagementServicePath"
	ParamContentServicePath = "contentServiceServicePath"
	ParamMemberServicePath  = "memberServiceServicePath"
	ParamSearchServicePath  = "searchServiceServicePath"
	ParamDataCollection     = "searchServiceDataCollection"
	ParamViewProtocol       = "viewProtocol"
	ParamViewServerName     = "viewServerName"
	ParamViewPort           = "viewPort"
	ParamViewCgiPath        = "viewCgiPath"
	ParamViewAction         = "viewAction"
)

const (
	defaultServerProtocol = "http"
	defaultServerPort     = 2099

	defaultAuthenticationPath = "/cws/services/Authentication"
	defaultDocumentMgmtPath   = "/cws/services/DocumentManagement"
	defaultContentServicePath = "/cws/services/ContentService"
	defaultMemberServicePath  = "/cws/services/MemberService"
	defaultSearchServicePath  = "/cws/services/SearchService"
	defaultDataCollection     = "Livelink Enterprise Server"
)

// settings are the connection parameters with defaults applied.
type settings struct {
	serverProtocol string
	serverName     string
	serverPort     int
	userName       string
	password       string

	authenticationPath string
	documentMgmtPath   string
	contentServicePath string
	memberServicePath  string
	searchServicePath  string
	dataCollection     string

	viewAction   string
	viewBasePath string
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseSettings(p crawler.ConfigParams) (settings, error) {
	s := settings{
		serverProtocol:     valueOr(p.Get(ParamServerProtocol), defaultServerProtocol),
		serverName:         p.Get(ParamServerName),
		serverPort:         defaultServerPort,
		userName:           p.Get(ParamServerUserName),
		password:           p.GetObfuscated(ParamServerPassword),
		authenticationPath: valueOr(p.Get(ParamAuthenticationPath), defaultAuthenticationPath),
		documentMgmtPath:   valueOr(p.Get(ParamDocumentMgmtPath), defaultDocumentMgmtPath),
		contentServicePath: valueOr(p.Get(ParamContentServicePath), defaultContentServicePath),
		memberServicePath:  valueOr(p.Get(ParamMemberServicePath), defaultMemberServicePath),
		searchServicePath:  valueOr(p.Get(ParamSearchServicePath), defaultSearchServicePath),
		dataCollection:     valueOr(p.Get(ParamDataCollection), defaultDataCollection),
		viewAction:         p.Get(ParamViewAction),
	}
	if s.serverName == "" {
		return s, fmt.Errorf("%s is required: %w", ParamServerName, crawler.ErrBadConfiguration)
	}
	if v := p.Get(ParamServerPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("bad server port %q: %w", v, crawler.ErrBadConfiguration)
		}
		s.serverPort = port
	}

	viewProtocol := valueOr(p.Get(ParamViewProtocol), s.serverProtocol)
	viewPort := p.Get(ParamViewPort)
	if viewPort == "" {
		switch {
		case viewProtocol != s.serverProtocol && viewProtocol == "https":
			viewPort = "443"
		case viewProtocol != s.serverProtocol:
			viewPort = "80"
		default:
			viewPort = strconv.Itoa(s.serverPort)
		}
	}
	portNumber, err := strconv.Atoi(viewPort)
	if err != nil {
		return s, fmt.Errorf("bad view port %q: %w", viewPort, crawler.ErrBadConfiguration)
	}
	portPart := ":" + strconv.Itoa(portNumber)
	if (viewProtocol == "https" && portNumber == 443) || (viewProtocol != "https" && portNumber == 80) {
		portPart = ""
	}
	viewServer := valueOr(p.Get(ParamViewServerName), s.serverName)
	s.viewBasePath = viewProtocol + "://" + viewServer + portPart + p.Get(ParamViewCgiPath)
	return s, nil
}

func (s settings) serviceURL(path string) string {
	return s.serverProtocol + "://" + s.serverName + ":" + strconv.Itoa(s.serverPort) + path
}

// viewURI returns the browser URI of a document, or "" for containers.
func (s settings) viewURI(id string) string {
	if !crawler.IsDocumentID(id) {
		return ""
	}
	objectID := id[1:]
	switch s.viewAction {
	case "open":
		return s.viewBasePath + "/open/" + objectID
	case "overview":
		return s.viewBasePath + "?func=ll&objAction=overview&objID=" + objectID
	default:
		return s.viewBasePath + "?func=ll&objAction=download&objID=" + objectID
	}
}
