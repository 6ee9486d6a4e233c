package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/feeds"
	"github.com/kinfolkhq/kinfolk/db"
	"github.com/kinfolkhq/kinfolk/util"
)

const rssPostLimit = 50

// GetRSS renders the public local timeline as an RSS feed. Only public
// posts by local authors appear; remote copies and restricted posts
// never leak here.
func GetRSS(conf *util.AppConfig) (string, error) {
	err, posts := db.GetDB().ReadPublicLocalPosts(rssPostLimit)
	if err != nil || posts == nil {
		log.Println("Could not get public posts!", err)
		return "", errors.New("error retrieving public posts")
	}

	link := fmt.Sprintf("http://%s:%d/feed", conf.Conf.Host, conf.Conf.HttpPort)

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - Public Timeline", conf.Conf.Hostname),
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("public posts on %s", conf.Conf.Hostname),
		Author:      &feeds.Author{Name: conf.Conf.Hostname},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, post := range *posts {
		author := post.AuthorPUID
		if err, user := db.GetDB().ReadUserByPUID(post.AuthorPUID); err == nil && user != nil {
			author = user.DisplayName
		}
		feedItems = append(feedItems,
			&feeds.Item{
				Id:          post.CUID,
				Title:       fmt.Sprintf("Post by %s, %s", author, post.CreatedAt.Format(util.DateTimeFormat())),
				Link:        &feeds.Link{Href: fmt.Sprintf("%s/%s", link, post.CUID)},
				Description: post.Content,
				Author:      &feeds.Author{Name: author},
				Created:     post.CreatedAt,
			})
	}
	feed.Items = feedItems

	rss, err := feed.ToRss()
	if err != nil {
		log.Println("Could not render the feed!", err)
		return "", err
	}
	return rss, nil
}
