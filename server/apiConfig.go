package server

import (
	"net/http"

	"github.com/cyclopcam/pointer/server/configdb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// Shown in place of secret values that have been set
const redactedValue = "********"

func (s *Server) httpConfigGetVariableDefinitions(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, configdb.AllVariables)
}

func (s *Server) httpConfigGetVariables(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	values, err := s.configDB.GetVariableValues()
	www.Check(err)
	for i := range values {
		if configdb.IsSecretVariable(configdb.VariableKey(values[i].Key)) && values[i].Value != "" {
			values[i].Value = redactedValue
		}
	}
	www.CacheNever(w)
	www.SendJSON(w, values)
}

// Set one or more variables, from a JSON object such as {"RoomName": "lab"}.
// An empty value removes the variable. All values are validated before any are written.
func (s *Server) httpConfigSetVariables(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := map[configdb.VariableKey]string{}
	www.ReadJSON(w, r, &req, 1024*1024)
	if len(req) == 0 {
		www.PanicBadRequestf("No variables specified")
	}
	for key, value := range req {
		if configdb.IsSecretVariable(key) && value == redactedValue {
			// The client echoed back what we gave it, so leave the secret alone
			delete(req, key)
			continue
		}
		www.CheckClient(configdb.ValidateVariable(key, value))
	}

	// If you receive wantReconnect:true, then stop and start streaming when you're ready.
	// wantRestart:true means the change only applies after the process restarts.
	type Response struct {
		WantReconnect bool `json:"wantReconnect"`
		WantRestart   bool `json:"wantRestart"`
	}
	resp := Response{}

	for key, value := range req {
		www.Check(s.configDB.SetVariable(key, value))
		if configdb.IsSecretVariable(key) {
			s.Log.Infof("Set config variable %v", key)
		} else {
			s.Log.Infof("Set config variable %v: %v", key, value)
		}
		resp.WantReconnect = resp.WantReconnect || configdb.VariableSetNeedsReconnect(key)
		resp.WantRestart = resp.WantRestart || configdb.VariableSetNeedsRestart(key)
	}

	www.SendJSON(w, &resp)
}
