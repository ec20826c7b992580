package main

import (
	"flag"
	"os"
	"time"

	"github.com/LeoCommon/gpsrecorder/internal/recorder/api/jwt/misc"
	"github.com/LeoCommon/gpsrecorder/internal/recorder/config"
	"github.com/pelletier/go-toml/v2"
)

// sample returns the defaults with every optional section filled in, so
// omitempty keys show up in the exported file
func sample() *config.MainConfig {
	c := config.New()

	c.Recorder.Debug = true
	c.Recorder.SpeedLimit = 55
	c.Recorder.StaleTimeout = config.TOMLDuration(time.Minute)

	c.Device.Port = "/dev/ttyACM0"
	c.Device.VendorID = "1546"
	c.Device.ProductID = "01a8"
	c.Device.RequireChecksum = true
	c.Device.ReleaseUnits = []string{"gpsd.socket", "gpsd.service"}
	c.Device.InitSentences = []string{"$PUBX,40,GLL,0,0,0,0"}

	c.Api.Url = "https://collector.example.org/api/v1"
	c.Api.RootCertificate = "/data/config/gpsrecorder/ca.pem"
	c.Api.Auth.Basic = &config.AuthBasicSettings{Username: "recorder", Password: "change-me"}
	c.Api.Auth.Bearer = &config.AuthBearerSettings{
		Sources:         &[]config.BearerTokenSource{config.BearerSourceBody, config.BearerSourceCookies},
		TokenPair:       misc.TokenPair{Refresh: "<refresh token>"},
		RefreshEndpoint: misc.DefaultRefreshEndpoint,
		Scheme:          misc.DefaultSchemeName,
		CookieSettings: config.BearerCookieSettings{
			AccessTokenName:  misc.DefaultAuthTokenCookieName,
			RefreshTokenName: misc.DefaultRefreshTokenCookieName,
		},
	}

	c.Mqtt.Broker = "tcp://localhost:1883"
	c.Mqtt.Username = "recorder"
	c.Mqtt.Password = "change-me"
	c.Mqtt.Retained = true

	return c
}

func main() {
	out := flag.String("out", "./config/config.toml", "where the sample config is written")
	flag.Parse()

	data, err := toml.Marshal(sample())
	if err != nil {
		panic(err)
	}

	if err := os.WriteFile(*out, data, 0644); err != nil {
		panic(err)
	}
}
